package main

import "errors"

var errSocketClosed = errors.New("socket closed")
