package dispatcher

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Profile process wide executor counters
type Profile struct {
	Timestamp time.Time // profile timestamp
	Submitted uint64    // accepted units
	Rejected  uint64    // rejected submissions
	Executed  uint64    // units finished successfully
	Failed    uint64    // units finished with action error
	Canceled  uint64    // units canceled by ShutdownNow
	Fatal     uint64    // units failed by worker fatal exit
	Restarts  uint64    // restarted workers
}

type _Profile struct {
	Profile
}

func (profile *_Profile) submitted() { atomic.AddUint64(&profile.Submitted, 1) }
func (profile *_Profile) rejected()  { atomic.AddUint64(&profile.Rejected, 1) }
func (profile *_Profile) executed()  { atomic.AddUint64(&profile.Executed, 1) }
func (profile *_Profile) failed()    { atomic.AddUint64(&profile.Failed, 1) }
func (profile *_Profile) canceled()  { atomic.AddUint64(&profile.Canceled, 1) }
func (profile *_Profile) fatal()     { atomic.AddUint64(&profile.Fatal, 1) }
func (profile *_Profile) restarted() { atomic.AddUint64(&profile.Restarts, 1) }

var profile = &_Profile{}

// GetProfile .
func GetProfile() *Profile {
	return &Profile{
		Timestamp: time.Now(),
		Submitted: atomic.LoadUint64(&profile.Submitted),
		Rejected:  atomic.LoadUint64(&profile.Rejected),
		Executed:  atomic.LoadUint64(&profile.Executed),
		Failed:    atomic.LoadUint64(&profile.Failed),
		Canceled:  atomic.LoadUint64(&profile.Canceled),
		Fatal:     atomic.LoadUint64(&profile.Fatal),
		Restarts:  atomic.LoadUint64(&profile.Restarts),
	}
}

var (
	lastprofile      = GetProfile()
	lastprofileMutex sync.Mutex
)

// PrintProfile render counters and throughput since the previous call
func PrintProfile() string {
	current := GetProfile()

	lastprofileMutex.Lock()
	last := lastprofile
	lastprofile = current
	lastprofileMutex.Unlock()

	var buff bytes.Buffer

	titles := []string{"submit", "reject", "exec", "fail", "cancel", "fatal", "restart", "speed(op/s)"}

	width := 14

	for _, title := range titles {
		pad(&buff, title, width)
	}

	buff.WriteString("\n")

	counters := []uint64{
		current.Submitted,
		current.Rejected,
		current.Executed,
		current.Failed,
		current.Canceled,
		current.Fatal,
		current.Restarts,
	}

	for _, counter := range counters {
		pad(&buff, fmt.Sprintf("%d", counter), width)
	}

	duration := current.Timestamp.Sub(last.Timestamp)

	speed := float64(0)

	if duration > 0 {
		finished := (current.Executed + current.Failed) - (last.Executed + last.Failed)
		speed = float64(finished) * float64(time.Second) / float64(duration)
	}

	buff.WriteString(fmt.Sprintf("%f", speed))

	return buff.String()
}

func pad(buff *bytes.Buffer, val string, width int) {
	buff.WriteString(val)

	if len(val) < width {
		buff.WriteString(strings.Repeat(" ", width-len(val)))
	} else {
		buff.WriteString(" ")
	}
}
