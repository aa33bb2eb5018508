package gateboard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"

	"github.com/goliathdrakken/gatebot/auth"
	"github.com/goliathdrakken/gatebot/component"
	"github.com/goliathdrakken/gatebot/errors"
	"github.com/goliathdrakken/gatebot/pkg/retry"
)

// AuthDeviceOnewire is the auth device name for the board's onewire
// bus. Boards that self-report the legacy name "onewire" are renamed
// to this.
const AuthDeviceOnewire = "core.onewire"

// DefaultRequiredFirmware is the minimum firmware version serviced.
// Boards below it are pinged but their messages are dropped.
const DefaultRequiredFirmware = 4

// DefaultBaud is the serial speed used when none is configured.
const DefaultBaud = 115200

// CoreSender is the slice of the gatenet client the link needs to
// forward board activity to the core.
type CoreSender interface {
	SendMeterUpdate(gateName string, reading int64) error
	SendAuthTokenAdd(gateName, authDevice, tokenValue string) error
	SendAuthTokenRemove(gateName, authDevice, tokenValue string) error
}

// LinkDeps holds runtime dependencies for a board link.
type LinkDeps struct {
	Logger *slog.Logger
	Sender CoreSender

	// Device is the serial device path, e.g. "/dev/ttyUSB0". Ignored
	// when Port is set.
	Device string

	// Baud is the serial speed. Defaults to DefaultBaud.
	Baud int

	// Port overrides serial device opening with an existing stream,
	// for tests.
	Port io.ReadWriteCloser

	// BoardName prefixes output names when forming gate names, so
	// multiple boards stay distinguishable. Defaults to "gateboard".
	BoardName string

	// GateName is the gate attributed to auth token events. Defaults
	// to the all-gates alias.
	GateName string

	// RequiredFirmware overrides DefaultRequiredFirmware when > 0.
	RequiredFirmware uint16

	// StrictCRC enables frame checksum verification.
	StrictCRC bool
}

// Link services one gateboard device: it verifies the firmware
// handshake and translates board messages into core events.
type Link struct {
	logger           *slog.Logger
	sender           CoreSender
	device           string
	baud             int
	boardName        string
	gateName         string
	requiredFirmware uint16
	strictCRC        bool

	retryConfig retry.Config

	mu        sync.Mutex
	port      io.ReadWriteCloser
	portGiven bool

	shutdown    chan struct{}
	done        chan struct{}
	running     atomic.Bool
	initialized atomic.Bool
	startTime   time.Time
	errorCount  atomic.Int64
}

var _ component.LifecycleComponent = (*Link)(nil)

// NewLink creates a board link. The device is opened in Start.
func NewLink(deps LinkDeps) *Link {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default().With("component", "gateboard-link")
	}
	baud := deps.Baud
	if baud <= 0 {
		baud = DefaultBaud
	}
	boardName := deps.BoardName
	if boardName == "" {
		boardName = "gateboard"
	}
	gateName := deps.GateName
	if gateName == "" {
		gateName = auth.DefaultAllGatesAlias
	}
	required := deps.RequiredFirmware
	if required == 0 {
		required = DefaultRequiredFirmware
	}

	return &Link{
		logger:           logger,
		sender:           deps.Sender,
		device:           deps.Device,
		baud:             baud,
		boardName:        boardName,
		gateName:         gateName,
		requiredFirmware: required,
		strictCRC:        deps.StrictCRC,
		retryConfig:      retry.Persistent(),
		port:             deps.Port,
		portGiven:        deps.Port != nil,
	}
}

// Meta implements component.LifecycleComponent.
func (l *Link) Meta() component.Metadata {
	return component.Metadata{
		Name:        "gateboard-" + l.boardName,
		Type:        "device",
		Description: fmt.Sprintf("GBSP link to %s at %d baud", l.device, l.baud),
		Version:     "1.0.0",
	}
}

// Health implements component.LifecycleComponent. The link is healthy
// only after a firmware-acceptable Hello has been seen.
func (l *Link) Health() component.HealthStatus {
	return component.HealthStatus{
		Healthy:    l.running.Load() && l.initialized.Load(),
		LastCheck:  time.Now(),
		ErrorCount: int(l.errorCount.Load()),
		Uptime:     time.Since(l.startTime),
	}
}

// Initialize implements component.LifecycleComponent.
func (l *Link) Initialize() error {
	if l.device == "" && !l.portGiven {
		return errors.WrapInvalid(errors.ErrMissingConfig,
			"gateboard-link", "Initialize", "device validation")
	}
	if l.sender == nil {
		return errors.WrapInvalid(errors.New("nil core sender"),
			"gateboard-link", "Initialize", "dependency validation")
	}
	return nil
}

// Start opens the device and begins servicing it.
func (l *Link) Start(ctx context.Context) error {
	if l.running.Load() {
		return nil
	}

	if !l.portGiven {
		open := func() error {
			port, err := serial.Open(l.device, &serial.Mode{BaudRate: l.baud})
			if err != nil {
				return err
			}
			l.mu.Lock()
			l.port = port
			l.mu.Unlock()
			return nil
		}
		if err := retry.Do(ctx, l.retryConfig, open); err != nil {
			return errors.WrapTransient(err, "gateboard-link", "Start", "serial open")
		}
		l.logger.Info("Serial device opened", "device", l.device, "baud", l.baud)
	}

	l.shutdown = make(chan struct{})
	l.done = make(chan struct{})
	l.running.Store(true)
	l.startTime = time.Now()

	go func() {
		defer close(l.done)
		l.readLoop()
	}()
	return nil
}

// Stop closes the device and waits for the read loop.
func (l *Link) Stop(timeout time.Duration) error {
	if !l.running.Load() {
		return nil
	}
	l.running.Store(false)
	close(l.shutdown)

	l.mu.Lock()
	if l.port != nil {
		_ = l.port.Close()
	}
	l.mu.Unlock()

	select {
	case <-l.done:
	case <-time.After(timeout):
		return errors.WrapTransient(fmt.Errorf("stop timeout after %v", timeout),
			"gateboard-link", "Stop", "graceful shutdown")
	}
	return nil
}

// writeMessage encodes and writes one command to the board.
func (l *Link) writeMessage(m Message) error {
	frame, err := Encode(m)
	if err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.port == nil {
		return errors.WrapTransient(errors.ErrNoConnection,
			"gateboard-link", "writeMessage", "port check")
	}
	_, err = l.port.Write(frame)
	return errors.WrapTransient(err, "gateboard-link", "writeMessage", "write")
}

func (l *Link) ping() {
	if err := l.writeMessage(&PingCommand{}); err != nil {
		l.logger.Warn("Could not ping board", "error", err)
	}
}

// readLoop services the board until Stop closes the port. Messages are
// dropped until a Hello with an acceptable firmware version arrives;
// the board is pinged until it introduces itself.
func (l *Link) readLoop() {
	reader := NewReader(l.port)
	reader.SetStrictCRC(l.strictCRC)

	// Nudge the board a couple of times before listening.
	l.ping()
	l.ping()

	for l.running.Load() {
		msg, err := reader.GetNextMessage()
		if err != nil {
			select {
			case <-l.shutdown:
				return
			default:
			}
			if errors.IsInvalid(err) {
				// Unknown frame, bad checksum or desync. The reader is
				// still synchronized; skip and continue.
				l.logger.Warn("Skipping unreadable frame", "error", err)
				l.errorCount.Add(1)
				continue
			}
			l.logger.Error("Device read failed, stopping link", "error", err)
			return
		}

		if hello, ok := msg.(*HelloMessage); ok {
			l.handleHello(hello)
			continue
		}

		if !l.initialized.Load() {
			l.ping()
			time.Sleep(100 * time.Millisecond)
			continue
		}

		l.handleMessage(msg)
	}
}

func (l *Link) handleHello(hello *HelloMessage) {
	if hello.FirmwareVersion >= l.requiredFirmware {
		if !l.initialized.Load() {
			l.logger.Info("Found a gateboard",
				"firmware_version", hello.FirmwareVersion)
			l.initialized.Store(true)
		}
		return
	}

	l.logger.Error("Board firmware is below the required version, "+
		"its messages will be ignored until it is updated",
		"firmware_version", hello.FirmwareVersion,
		"required_version", l.requiredFirmware)
	l.initialized.Store(false)
}

func (l *Link) handleMessage(msg Message) {
	switch m := msg.(type) {
	case *OnewirePresenceMessage:
		value := fmt.Sprintf("%016x", m.DeviceID)
		if m.Status == 1 {
			l.send(l.sender.SendAuthTokenAdd(l.gateName, AuthDeviceOnewire, value))
		} else {
			l.send(l.sender.SendAuthTokenRemove(l.gateName, AuthDeviceOnewire, value))
		}

	case *AuthTokenMessage:
		// Boards report the onewire bus under its legacy name.
		device := m.Device
		if device == "onewire" {
			device = AuthDeviceOnewire
		}
		value := tokenLEHex(m.Token)
		if m.Status == 1 {
			l.send(l.sender.SendAuthTokenAdd(l.gateName, device, value))
		} else {
			l.send(l.sender.SendAuthTokenRemove(l.gateName, device, value))
		}

	case *OutputStatusMessage:
		gateName := fmt.Sprintf("%s.%s", l.boardName, m.OutputName)
		l.send(l.sender.SendMeterUpdate(gateName, int64(m.Reading)))

	case *PingCommand:
		// Echo from our own nudge, ignore.

	default:
		l.logger.Debug("Ignoring board message", "message", fmt.Sprint(msg))
	}
}

func (l *Link) send(err error) {
	if err != nil {
		l.errorCount.Add(1)
		l.logger.Warn("Could not forward board message to core", "error", err)
	}
}

// tokenLEHex renders board-order (big-endian) token bytes as the
// little-endian hex string the core stores.
func tokenLEHex(token []byte) string {
	out := make([]byte, 0, len(token)*2)
	for i := len(token) - 1; i >= 0; i-- {
		out = append(out, fmt.Sprintf("%02x", token[i])...)
	}
	return string(out)
}
