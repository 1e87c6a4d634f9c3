package mcpserver

import "errors"

var (
	errNotFound      = errors.New("not_found")
	errNotPermitted  = errors.New("not_permitted")
	errUnreachable   = errors.New("unreachable")
	errTooManyRoutes = errors.New("too_many_routes")
)

func isNotFound(err error) bool      { return errors.Is(err, errNotFound) }
func isNotPermitted(err error) bool  { return errors.Is(err, errNotPermitted) }
func isUnreachable(err error) bool   { return errors.Is(err, errUnreachable) }
func isTooManyRoutes(err error) bool { return errors.Is(err, errTooManyRoutes) }
