package redis

// Streams maps Redis stream keys to the ID each should be read from, for use with a redis.XReadArgs.
type Streams map[string]string

// Option returns the stream keys followed by their IDs, the flat []string shape XREAD/XREADGROUP's
// STREAMS option expects (keys first, then IDs in the same order).
func (s Streams) Option() []string {
	option := make([]string, 0, len(s)*2)
	keys := make([]string, 0, len(s))

	for key := range s {
		keys = append(keys, key)
	}

	for _, key := range keys {
		option = append(option, key)
	}
	for _, key := range keys {
		option = append(option, s[key])
	}

	return option
}
