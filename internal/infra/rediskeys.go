package infra

const (
	// RedisNamespace isolates the starter's pub/sub channels from the host application's keys.
	RedisNamespace = "audit"
)

// RedisChannel maps an audit channel onto its namespaced redis pub/sub channel.
func RedisChannel(channel string) string {
	return RedisNamespace + ":" + channel
}
