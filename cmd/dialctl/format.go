package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/simpleiot/dialnet/chanpool"
	"github.com/simpleiot/dialnet/dial"
)

// ago converts an engine tick count into a relative time
func ago(ticks int64, tick time.Duration) string {
	now := time.Now()
	return humanize.RelTime(now.Add(-time.Duration(ticks)*tick), now, "ago", "from now")
}

func slotString(s *chanpool.SlotID) string {
	if s == nil {
		return "-"
	}
	return s.String()
}

func printStatus(w io.Writer, list []dial.Status, tick time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tSTATE\tSINCE\tSLOT\tPEER\tTX\tRX\tCPS\tUNITS")
	for _, s := range list {
		state := s.State.String()
		if s.Cooldown() {
			state += " (wait)"
		}
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\t%v\n",
			s.Name, state, ago(s.Now-s.Since, tick), slotString(s.Slot),
			orDash(s.Peer), humanize.Bytes(uint64(s.TxBytes)),
			humanize.Bytes(uint64(s.RxBytes)), humanize.Comma(s.CPS), s.Units)
	}
	tw.Flush()
}

func printStatusDetail(w io.Writer, s dial.Status, tick time.Duration) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	line := func(k string, v any) {
		fmt.Fprintf(tw, "%v:\t%v\n", k, v)
	}

	line("name", s.Name)
	line("state", fmt.Sprintf("%v (%v)", s.State, ago(s.Now-s.Since, tick)))
	line("up", s.Up)
	line("dial mode", s.DialMode)
	line("slot", slotString(s.Slot))
	if s.Peer != "" {
		dir := "incoming"
		if s.Outgoing {
			dir = "outgoing"
		}
		line("peer", fmt.Sprintf("%v (%v)", s.Peer, dir))
	}
	if s.CallID != "" {
		line("call id", s.CallID)
	}
	line("charge units", s.Units)
	if s.ChargeInterval > 0 {
		line("charge interval", time.Duration(s.ChargeInterval)*tick)
	}
	line("idle", time.Duration(s.Idle)*tick)
	line("tx", humanize.Bytes(uint64(s.TxBytes)))
	line("rx", humanize.Bytes(uint64(s.RxBytes)))
	line("cps", humanize.Comma(s.CPS))
	if s.Overloaded {
		line("overloaded", true)
	}
	line("dial cycles", s.Cycles)
	if s.Cooldown() {
		line("dial wait", ago(s.Now-s.CooldownUntil, tick))
	}
	if s.LastFailure != "" {
		line("last failure", s.LastFailure)
	}
	if s.Master != "" {
		line("master", s.Master)
	}
	if len(s.Slaves) > 0 {
		line("slaves", strings.Join(s.Slaves, ", "))
	}
	tw.Flush()
}

func printPolicy(w io.Writer, p dial.Policy) {
	tw := tabwriter.NewWriter(w, 0, 8, 1, ' ', 0)
	fmt.Fprintf(tw, "msn:\t%v\n", orDash(p.MSN))
	fmt.Fprintf(tw, "protocols:\t%v/%v\n", p.L2, p.L3)
	fmt.Fprintf(tw, "dial mode:\t%v\n", p.DialMode)
	fmt.Fprintf(tw, "callback:\t%v (delay %v)\n", p.Callback, p.CBDelay)
	fmt.Fprintf(tw, "secure:\t%v\n", p.Secure)
	fmt.Fprintf(tw, "up:\t%v\n", p.Up)
	fmt.Fprintf(tw, "onhtime:\t%v\n", p.OnHTime)
	fmt.Fprintf(tw, "dialmax:\t%v\n", p.DialMax)
	fmt.Fprintf(tw, "dialwait:\t%v\n", p.DialWait)
	fmt.Fprintf(tw, "dialtimeout:\t%v\n", p.DialTimeout)
	fmt.Fprintf(tw, "charge hangup:\t%v (interval %v)\n", p.ChargeHup, p.ChargeInt)
	fmt.Fprintf(tw, "inbound hangup:\t%v\n", p.InboundHup)
	fmt.Fprintf(tw, "trigger cps:\t%v\n", humanize.Comma(p.TriggerCPS))
	fmt.Fprintf(tw, "slave delay:\t%v\n", p.SlaveDelay)
	if p.Master != "" {
		fmt.Fprintf(tw, "master:\t%v\n", p.Master)
	}
	if p.PreDriver >= 0 {
		excl := ""
		if p.Exclusive {
			excl = " exclusive"
		}
		fmt.Fprintf(tw, "bound to:\t%v/%v%v\n", p.PreDriver, p.PreChannel, excl)
	}
	tw.Flush()
}

func printSlots(w io.Writer, slots []chanpool.Slot) {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "SLOT\tUSAGE\tHOLDER\tRESERVED")
	for _, s := range slots {
		fmt.Fprintf(tw, "%v\t%v\t%v\t%v\n", s.ID, s.Usage, orDash(s.Holder),
			orDash(s.Owner))
	}
	tw.Flush()
}

func formatChange(sc dial.StateChange) string {
	s := fmt.Sprintf("%v: %v -> %v", sc.Name, sc.From, sc.To)
	if sc.Peer != "" {
		s += " peer " + sc.Peer
	}
	if sc.Reason != "" {
		s += " (" + sc.Reason + ")"
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
