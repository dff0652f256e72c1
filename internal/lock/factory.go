package lock

// New returns a RedisLocker when redisURL is non-empty, or a NoopLocker
// otherwise. Centralizing the choice here keeps cmd/ingest-turbo from
// branching on configuration directly.
func New(redisURL string) (Locker, error) {
	if redisURL == "" {
		return NoopLocker{}, nil
	}

	return NewRedisLocker(redisURL)
}
