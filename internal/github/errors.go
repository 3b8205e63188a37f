package github

import "errors"

var (
	ErrSourceUnavailable = errors.New("source repository unavailable")
	ErrBadRemote         = errors.New("remote URL is not a github repository")
)
