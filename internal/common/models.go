package common

const (
	// TrackerServiceName is the mDNS service the tracker is published under.
	TrackerServiceName = "_dhtracker._tcp"
	// ProxyServiceName is the mDNS service of the DHT proxy daemon.
	ProxyServiceName = "_dhtproxy._tcp"
	// ServiceDomain is the mDNS service domain.
	ServiceDomain = "local."

	// DefaultTrackerPort is the conventional tracker port.
	DefaultTrackerPort = 6969
	// DefaultProxyPort is the port the DHT proxy daemon listens on unless
	// configured otherwise.
	DefaultProxyPort = 51515
)
