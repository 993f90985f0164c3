package client

import "errors"

// ErrNotConnected is returned by Send while no websocket link is up.
var ErrNotConnected = errors.New("client: not connected")
