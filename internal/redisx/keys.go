package redisx

const keyPrefix = "order-settlement:"

func SweeperLockKey() string {
	return keyPrefix + "lock:expiry-sweeper"
}
