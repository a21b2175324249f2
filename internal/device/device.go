// SPDX-License-Identifier: MPL-2.0

package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/flashcmd/flashcmd/internal/store"
)

const (
	// SafeModeBootThreshold is the number of unfinished boots after which the
	// next boot enters safe mode.
	SafeModeBootThreshold = 4

	// DefaultPingInterval is the ping watchdog interval before any PingInterval command.
	DefaultPingInterval = time.Hour

	// StartValueRemember keeps the last runtime value of a channel across boots.
	StartValueRemember = -1

	settingFlags        = "flags"
	settingPingHost     = "ping_host"
	settingPingInterval = "ping_interval_ms"
)

// ErrNoStore is returned by persistence operations on a Device without a store.
var ErrNoStore = errors.New("device has no store")

type (
	// Hooks are called when a scheduled operation fires. Nil hooks only log.
	Hooks struct {
		Restart     func()
		OTA         func(url string)
		HADiscovery func()
		DeepSleep   func(d time.Duration)
	}

	// Device is the host-side model of the firmware's hardware and configuration
	// collaborators. Methods never block on long operations; restarts, OTA and
	// discovery are armed with timers.
	Device struct {
		mu     sync.Mutex
		store  *store.Store
		logger *log.Logger
		hooks  Hooks
		now    func() time.Time

		startedAt     time.Time
		channels      map[int]int
		flags         uint64
		powerSave     bool
		pingHost      string
		pingInterval  time.Duration
		lastPingReply time.Time
		openAPPending bool
		safeMode      bool
		pendingOTA    string

		restartTimer   *time.Timer
		restartAt      time.Time
		discoveryTimer *time.Timer
		stableTimer    *time.Timer
	}

	// Option configures a Device.
	Option func(*Device)

	// State is a point-in-time copy of the device model.
	State struct {
		Uptime         time.Duration
		Channels       map[int]int
		Flags          uint64
		PowerSave      bool
		PingHost       string
		PingInterval   time.Duration
		NoPingTime     time.Duration
		OpenAPPending  bool
		SafeMode       bool
		PendingOTA     string
		RestartPending bool
		RestartAt      time.Time
	}
)

// WithStore persists settings and channels through s.
func WithStore(s *store.Store) Option {
	return func(d *Device) { d.store = s }
}

// WithLogger sets the logger. Messages are tagged with the "device" prefix.
func WithLogger(l *log.Logger) Option {
	return func(d *Device) {
		if l != nil {
			d.logger = l.WithPrefix("device")
		}
	}
}

// WithHooks installs callbacks for scheduled operations.
func WithHooks(h Hooks) Option {
	return func(d *Device) { d.hooks = h }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(d *Device) {
		if now != nil {
			d.now = now
		}
	}
}

// New creates a device. Call Load to read persisted state.
func New(opts ...Option) *Device {
	d := &Device{
		logger:       log.New(io.Discard),
		now:          time.Now,
		channels:     make(map[int]int),
		pingInterval: DefaultPingInterval,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.startedAt = d.now()
	d.lastPingReply = d.startedAt
	return d
}

// Load reads settings and channels from the store and applies channel startup
// values: a start value of StartValueRemember keeps the persisted value, any
// other start value replaces it.
func (d *Device) Load(ctx context.Context) error {
	if d.store == nil {
		return nil
	}

	settings, err := d.store.Settings(ctx)
	if err != nil {
		return err
	}
	channels, err := d.store.Channels(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.applySettingsLocked(settings)
	for _, ch := range channels {
		value := ch.Value
		if ch.HasStartValue && ch.StartValue != StartValueRemember {
			value = ch.StartValue
		}
		d.channels[ch.Index] = value
	}
	return nil
}

func (d *Device) applySettingsLocked(settings map[string]string) {
	d.flags = 0
	d.pingHost = ""
	d.pingInterval = DefaultPingInterval

	if v, ok := settings[settingFlags]; ok {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			d.flags = n
		} else {
			d.logger.Warn("ignoring malformed setting", "key", settingFlags, "value", v)
		}
	}
	if v, ok := settings[settingPingHost]; ok {
		d.pingHost = v
	}
	if v, ok := settings[settingPingInterval]; ok {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			d.pingInterval = time.Duration(ms) * time.Millisecond
		} else {
			d.logger.Warn("ignoring malformed setting", "key", settingPingInterval, "value", v)
		}
	}
}

// Boot records a boot attempt and reports whether the device is in safe mode.
// When the device stays up for stableAfter, the boot counter is reset.
func (d *Device) Boot(ctx context.Context, stableAfter time.Duration) (bool, error) {
	if d.store == nil {
		return false, nil
	}
	n, err := d.store.IncrementBootCount(ctx)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.safeMode = n > SafeModeBootThreshold
	if d.safeMode {
		d.logger.Warn("too many unfinished boots, entering safe mode", "boots", n)
	}
	if stableAfter > 0 {
		d.stableTimer = time.AfterFunc(stableAfter, func() {
			if err := d.store.ResetBootCount(context.Background()); err != nil {
				d.logger.Error("failed to reset boot count", "err", err)
				return
			}
			d.logger.Debug("boot marked stable")
		})
	}
	return d.safeMode, nil
}

// Close stops every pending timer.
func (d *Device) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, t := range []*time.Timer{d.restartTimer, d.discoveryTimer, d.stableTimer} {
		if t != nil {
			t.Stop()
		}
	}
}

// ScheduleRestart arms a restart after delay, replacing any pending one.
func (d *Device) ScheduleRestart(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.restartTimer != nil {
		d.restartTimer.Stop()
	}
	d.restartAt = d.now().Add(delay)
	d.restartTimer = time.AfterFunc(delay, func() {
		d.logger.Info("restarting")
		if d.hooks.Restart != nil {
			d.hooks.Restart()
		}
	})
}

// ClearConfig restores the default configuration.
func (d *Device) ClearConfig(ctx context.Context) error {
	if d.store != nil {
		if err := d.store.ClearSettings(ctx); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.applySettingsLocked(nil)
	return nil
}

// ClearChannels zeroes every channel.
func (d *Device) ClearChannels(ctx context.Context) error {
	if d.store != nil {
		if err := d.store.ClearChannels(ctx); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	for k := range d.channels {
		d.channels[k] = 0
	}
	return nil
}

// DeepSleep hands the sleep request to the DeepSleep hook.
func (d *Device) DeepSleep(dur time.Duration) {
	d.logger.Info("deep sleep requested", "duration", dur)
	if d.hooks.DeepSleep != nil {
		d.hooks.DeepSleep(dur)
	}
}

// SetPowerSave toggles dynamic power saving.
func (d *Device) SetPowerSave(on bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.powerSave = on
}

// SetFlags replaces the device flags.
func (d *Device) SetFlags(ctx context.Context, flags uint64) error {
	if err := d.persist(ctx, settingFlags, strconv.FormatUint(flags, 10)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flags = flags
	return nil
}

// HasFlag reports whether bit is set in the device flags.
func (d *Device) HasFlag(bit uint) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bit < 64 && d.flags&(1<<bit) != 0
}

// RequestOTA starts a firmware update from url in the background.
func (d *Device) RequestOTA(url string) {
	d.mu.Lock()
	d.pendingOTA = url
	d.mu.Unlock()

	d.logger.Info("OTA requested", "url", url)
	if d.hooks.OTA != nil {
		go d.hooks.OTA(url)
	}
}

// ScheduleHADiscovery arms Home Assistant discovery after delay, replacing any
// pending one.
func (d *Device) ScheduleHADiscovery(delay time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.discoveryTimer != nil {
		d.discoveryTimer.Stop()
	}
	d.discoveryTimer = time.AfterFunc(delay, func() {
		d.logger.Info("running HA discovery")
		if d.hooks.HADiscovery != nil {
			d.hooks.HADiscovery()
		}
	})
}

// ClearNoPingTime resets the ping watchdog's "time since last reply".
func (d *Device) ClearNoPingTime() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastPingReply = d.now()
}

// SetStartValue persists the startup value of channel ch.
func (d *Device) SetStartValue(ctx context.Context, ch, value int) error {
	if d.store == nil {
		return ErrNoStore
	}
	return d.store.SetStartValue(ctx, ch, value)
}

// StartValue returns the persisted startup value of channel ch.
func (d *Device) StartValue(ctx context.Context, ch int) (int, bool, error) {
	if d.store == nil {
		return 0, false, nil
	}
	c, err := d.store.Channel(ctx, ch)
	if err != nil {
		return 0, false, err
	}
	return c.StartValue, c.HasStartValue, nil
}

// OpenAP requests a temporary access point.
func (d *Device) OpenAP() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.openAPPending = true
}

// EnterSafeMode records enough failed boots that the next boot enters safe
// mode, then schedules a restart.
func (d *Device) EnterSafeMode(ctx context.Context, restartDelay time.Duration) error {
	if d.store == nil {
		return ErrNoStore
	}
	for range SafeModeBootThreshold + 1 {
		if _, err := d.store.IncrementBootCount(ctx); err != nil {
			return err
		}
	}
	d.ScheduleRestart(restartDelay)
	return nil
}

// SetPingInterval sets the ping watchdog interval.
func (d *Device) SetPingInterval(ctx context.Context, interval time.Duration) error {
	if err := d.persist(ctx, settingPingInterval, strconv.FormatInt(interval.Milliseconds(), 10)); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingInterval = interval
	return nil
}

// SetPingHost sets the host probed by the ping watchdog.
func (d *Device) SetPingHost(ctx context.Context, host string) error {
	if err := d.persist(ctx, settingPingHost, host); err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pingHost = host
	return nil
}

// Channel returns the value of channel ch.
func (d *Device) Channel(ch int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.channels[ch]
}

// SetChannel sets the value of channel ch.
func (d *Device) SetChannel(ctx context.Context, ch, value int) error {
	if ch < 0 {
		return fmt.Errorf("%w: %d", store.ErrInvalidChannel, ch)
	}
	if d.store != nil {
		if err := d.store.SetChannel(ctx, ch, value); err != nil {
			return err
		}
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[ch] = value
	d.logger.Debug("channel set", "ch", ch, "value", value)
	return nil
}

// ToggleChannel flips channel ch between 0 and 1 and returns the new value.
func (d *Device) ToggleChannel(ctx context.Context, ch int) (int, error) {
	value := 1
	if d.Channel(ch) != 0 {
		value = 0
	}
	if err := d.SetChannel(ctx, ch, value); err != nil {
		return 0, err
	}
	return value, nil
}

// State returns a copy of the current device model.
func (d *Device) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	channels := make(map[int]int, len(d.channels))
	for k, v := range d.channels {
		channels[k] = v
	}
	return State{
		Uptime:         now.Sub(d.startedAt),
		Channels:       channels,
		Flags:          d.flags,
		PowerSave:      d.powerSave,
		PingHost:       d.pingHost,
		PingInterval:   d.pingInterval,
		NoPingTime:     now.Sub(d.lastPingReply),
		OpenAPPending:  d.openAPPending,
		SafeMode:       d.safeMode,
		PendingOTA:     d.pendingOTA,
		RestartPending: d.restartTimer != nil,
		RestartAt:      d.restartAt,
	}
}

func (d *Device) persist(ctx context.Context, key, value string) error {
	if d.store == nil {
		return nil
	}
	return d.store.SetSetting(ctx, key, value)
}
