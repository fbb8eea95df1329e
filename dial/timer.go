package dial

// timer is a one shot deadline in ticks. Arming always replaces the
// pending deadline, so timers never stack.
type timer struct {
	armed    bool
	deadline int64
}

func (t *timer) arm(now, ticks int64) {
	t.armed = true
	t.deadline = now + ticks
}

func (t *timer) cancel() {
	t.armed = false
}

// fire returns true once when the deadline has passed
func (t *timer) fire(now int64) bool {
	if !t.armed || now < t.deadline {
		return false
	}
	t.armed = false
	return true
}
