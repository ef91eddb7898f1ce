package service

import "time"

const (
	waitTimeout  = time.Second
	pollInterval = time.Millisecond
)
