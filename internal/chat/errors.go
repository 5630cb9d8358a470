package chat

import "errors"

var (
	ErrInvalidRecipient = errors.New("recipient does not exist")
	ErrSelfMessage      = errors.New("cannot message yourself")
	ErrNotAMember       = errors.New("not a member of this group")
	ErrGroupNotFound    = errors.New("group not found")
	ErrEmptyContent     = errors.New("message content required")
	ErrJobNotFound      = errors.New("job not found")
	ErrInvalidJob       = errors.New("invalid job")

	ErrGroupNameRequired = errors.New("group name required")
)
