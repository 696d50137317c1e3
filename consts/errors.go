package consts

import "errors"

var (
	ErrMailboxNotFound    = errors.New("mailbox not found")
	ErrMessageNotFound    = errors.New("message not found")
	ErrAttachmentNotFound = errors.New("attachment not found")

	ErrInvalidAddress   = errors.New("invalid email address")
	ErrInvalidMessageID = errors.New("invalid message id")

	ErrStorageFailed       = errors.New("storage operation failed")
	ErrSerializationFailed = errors.New("serialization failed")
)
