package storage

import "yakv/internal/failpoint"

func failpointHit(name string) error {
	return failpoint.Hit(name)
}
