package peer

// Views a peer may enable. KeychainV0 is the view the content store serves by
// default.
var KnownViews = []string{
	"AppleTV",
	"ApplePay",
	"AutoUnlock",
	"ContinuityUnlock",
	"CreditCards",
	"Engram",
	"Health",
	"HomeKit",
	"KeychainV0",
	"Manatee",
	"Passwords",
	"WiFi",
}

var KnownSecurityProperties = []string{
	"HasEntropy",
	"IOS",
	"SEP",
	"ScreenLock",
}

func IsKnownView(v string) bool             { return contains(KnownViews, v) }
func IsKnownSecurityProperty(p string) bool { return contains(KnownSecurityProperties, p) }
