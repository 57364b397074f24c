package attachments

import "errors"

// Service errors.
var (
	ErrAttachmentNotFound = errors.New("attachment not found")
	ErrForbidden          = errors.New("operation not permitted")
	ErrFileTooLarge       = errors.New("file exceeds the size limit")
	ErrUnsupportedType    = errors.New("file type is not allowed")
	ErrEmptyFile          = errors.New("file is empty")
)
