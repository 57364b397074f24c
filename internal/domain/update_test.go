package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func strptr(s string) *string { return &s }

func TestIncidentUpdate_Description(t *testing.T) {
	actor := &UserRef{ID: 7, Name: "Dana Fields"}

	tests := []struct {
		name   string
		update IncidentUpdate
		want   string
	}{
		{
			name: "status change",
			update: IncidentUpdate{
				ActionType:    ActionStatusChange,
				PreviousValue: strptr("open"),
				NewValue:      strptr("investigating"),
				User:          actor,
			},
			want: "Dana Fields changed status from open to investigating",
		},
		{
			name:   "comment",
			update: IncidentUpdate{ActionType: ActionComment, User: actor},
			want:   "Dana Fields added a comment",
		},
		{
			name: "assignment",
			update: IncidentUpdate{
				ActionType: ActionAssignment,
				NewValue:   strptr("Omar Reyes"),
				User:       actor,
			},
			want: "Dana Fields assigned to Omar Reyes",
		},
		{
			name:   "unassignment",
			update: IncidentUpdate{ActionType: ActionAssignment, User: actor},
			want:   "Dana Fields removed assignment",
		},
		{
			name: "severity change",
			update: IncidentUpdate{
				ActionType:    ActionSeverityChange,
				PreviousValue: strptr("high"),
				NewValue:      strptr("critical"),
				User:          actor,
			},
			want: "Dana Fields changed severity from high to critical",
		},
		{
			name:   "edit",
			update: IncidentUpdate{ActionType: ActionEdit, User: actor},
			want:   "Dana Fields edited the incident",
		},
		{
			name:   "missing user falls back",
			update: IncidentUpdate{ActionType: ActionComment},
			want:   "Someone added a comment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.update.Description())
		})
	}
}
