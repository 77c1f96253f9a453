package redis

import (
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// WrapCmdErr wraps a failed Redis command's error with its name, for easier debugging of pipelines and
// background fetches where the failing command isn't otherwise obvious from the error text.
func WrapCmdErr(cmd redis.Cmder) error {
	return errors.Wrapf(cmd.Err(), "can't perform %q", cmd.Name())
}
