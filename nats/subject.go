package nats

// subject strings for the dialnet messages

// SubjectAdmin is the request subject for an admin operation
func SubjectAdmin(op string) string {
	return "dialnet.admin." + op
}

// SubjectAdminAll matches every admin request
func SubjectAdminAll() string {
	return "dialnet.admin.>"
}

// SubjectIfaceState is where state changes of an interface are published
func SubjectIfaceState(name string) string {
	return "dialnet.iface." + name + ".state"
}

// SubjectIfaceAllState matches the state changes of all interfaces
func SubjectIfaceAllState() string {
	return "dialnet.iface.*.state"
}

// SubjectIfaceSend carries frames the network layer wants to transmit
func SubjectIfaceSend(name string) string {
	return "dialnet.iface." + name + ".send"
}

// SubjectIfaceAllSend matches the send subjects of all interfaces
func SubjectIfaceAllSend() string {
	return "dialnet.iface.*.send"
}

// Link events between the engine and the encapsulation process
const (
	LinkOpen  = "open"
	LinkClose = "close"
	LinkFrame = "frame"
	LinkReady = "ready"
	LinkGone  = "gone"
	LinkRx    = "rx"
)

// SubjectLink is a link event for an interface
func SubjectLink(name, event string) string {
	return "dialnet.link." + name + "." + event
}

// SubjectLinkAll matches one link event for all interfaces
func SubjectLinkAll(event string) string {
	return "dialnet.link.*." + event
}

// SubjectPhysCmd carries commands to a remote physical driver
func SubjectPhysCmd(driver string) string {
	return "dialnet.phys." + driver + ".cmd"
}

// SubjectPhysEvent carries events from a remote physical driver
func SubjectPhysEvent(driver string) string {
	return "dialnet.phys." + driver + ".event"
}

// SubjectPhysInfo answers channel and capability queries for a remote driver
func SubjectPhysInfo(driver string) string {
	return "dialnet.phys." + driver + ".info"
}

// subjectToken returns the nth dot separated token of a subject
func subjectToken(subject string, n int) string {
	start := 0
	for i := 0; i < len(subject); i++ {
		if subject[i] == '.' {
			if n == 0 {
				return subject[start:i]
			}
			n--
			start = i + 1
		}
	}
	if n == 0 {
		return subject[start:]
	}
	return ""
}
