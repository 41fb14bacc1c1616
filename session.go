package binlog

import (
	"crypto/x509"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Session is the facade a host application drives: it owns one transport,
// one event queue and one content handler pipeline, and runs the
// asynchronous reader task between Connect and Disconnect.
type Session struct {
	network  string
	address  string
	username string
	password string
	serverID uint32

	sslCA     string
	sslCipher string

	id  uuid.UUID
	log *logrus.Entry

	mu       sync.Mutex
	tr       *transport
	queue    *eventQueue
	done     chan struct{}
	group    *errgroup.Group
	pipeline *Pipeline
	pending  []Event

	file string
	pos  uint32
}

// NewSession returns a Session configured to dial address over network
// ("tcp", typically) and authenticate with username/password. The server
// id used for COM_REGISTER_SLAVE and COM_BINLOG_DUMP defaults to a
// fixed non-zero value unless LIBREPLICATION_SERVER_ID overrides it.
func NewSession(network, address, username, password string) *Session {
	id := uuid.New()
	return &Session{
		network:  network,
		address:  address,
		username: username,
		password: password,
		serverID: serverIDFromEnv(1),
		id:       id,
		log:      logrus.WithField("session", id.String()),
		pipeline: &Pipeline{},
	}
}

// ContentHandlerPipeline returns the mutable handler list. Handlers added
// before Connect see every event from the start of the stream; handlers
// added afterwards only see events from that point on.
func (s *Session) ContentHandlerPipeline() *Pipeline {
	return s.pipeline
}

// SetSSLCA configures the CA bundle used to verify the server certificate
// during the TLS upgrade. Must be called before Connect.
func (s *Session) SetSSLCA(path string) {
	s.sslCA = path
}

// SetSSLCipher records a cipher list preference. The underlying crypto/tls
// stack does not expose cipher-suite names the way OpenSSL does; this is
// kept for API parity and is advisory only.
func (s *Session) SetSSLCipher(list string) {
	s.sslCipher = list
}

// Connect opens the transport, authenticates, registers as a replica,
// fetches master status if no position has been set, negotiates the
// checksum algorithm and issues the binlog dump. No partial session is
// retained on failure.
func (s *Session) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr != nil {
		return newError("connect", KindProtocol, fmt.Errorf("session already connected"))
	}

	tr, err := dialTransport(s.network, s.address, tcpKeepaliveConfigFromEnv())
	if err != nil {
		return newError("connect", KindIO, err)
	}

	if s.sslCA != "" {
		pool, err := loadCertPool(s.sslCA)
		if err != nil {
			_ = tr.Close()
			return newError("connect", KindIO, err)
		}
		if err := tr.UpgradeSSL(pool); err != nil {
			_ = tr.Close()
			return newError("connect", KindIO, err)
		}
	}

	if err := tr.Authenticate(s.username, s.password); err != nil {
		_ = tr.Close()
		return newError("connect", KindAuth, err)
	}

	if err := tr.registerSlave(s.serverID); err != nil {
		_ = tr.Close()
		return newError("connect", KindProtocol, err)
	}

	if s.file == "" {
		file, pos, err := tr.MasterStatus()
		if err != nil {
			_ = tr.Close()
			return newError("connect", KindIO, err)
		}
		s.file, s.pos = file, pos
	}

	if err := tr.Seek(s.serverID, s.file, s.pos); err != nil {
		_ = tr.Close()
		return newError("connect", KindIO, err)
	}

	s.tr = tr
	s.queue = newEventQueue()
	s.done = make(chan struct{})
	s.group = &errgroup.Group{}
	s.startReaderTask()
	s.log.WithFields(logrus.Fields{"file": s.file, "pos": s.pos}).Info("binlog: connected")
	return nil
}

// startReaderTask runs the asynchronous read loop: pull the next event off
// the wire, decode it, push it onto the bounded queue. An I/O error does
// not crash the task — it is reported as a synthetic INCIDENT event so the
// host thread learns about it through the normal WaitForNextEvent path.
func (s *Session) startReaderTask() {
	tr, queue, done, log := s.tr, s.queue, s.done, s.log
	s.group.Go(func() error {
		for {
			select {
			case <-done:
				return nil
			default:
			}
			ev, err := tr.NextEvent()
			if err == io.EOF {
				queue.push(queueItem{err: io.EOF}, done)
				return nil
			}
			if err != nil {
				log.WithError(err).Warn("binlog: reader task incident")
				incident := Event{
					Header: EventHeader{EventType: INCIDENT_EVENT},
					Data:   IncidentEvent{Message: err.Error()},
				}
				queue.push(queueItem{event: incident}, done)
				queue.push(queueItem{err: err}, done)
				return nil
			}
			if !queue.push(queueItem{event: ev}, done) {
				return nil
			}
		}
	})
}

// WaitForNextEvent blocks until the next event is available, runs it (and
// any events injected by earlier events) through the handler pipeline, and
// returns the first resulting event. It returns io.EOF on shutdown.
func (s *Session) WaitForNextEvent(out *Event) error {
	for {
		if len(s.pending) > 0 {
			*out = s.pending[0]
			s.pending = s.pending[1:]
			return nil
		}

		injected, err := s.pipeline.DrainInjected()
		if err != nil {
			return newError("wait_for_next_event", KindProtocol, err)
		}
		if len(injected) > 0 {
			s.pending = append(s.pending, injected...)
			continue
		}

		item := s.queue.pop()
		if item.err != nil {
			if item.err == io.EOF {
				return io.EOF
			}
			return newError("wait_for_next_event", KindIncident, item.err)
		}

		s.trackPosition(item.event)

		processed, err := s.pipeline.Process(item.event)
		if err != nil {
			return newError("wait_for_next_event", KindProtocol, err)
		}
		s.pending = append(s.pending, processed...)
	}
}

func (s *Session) trackPosition(ev Event) {
	if re, ok := ev.Data.(RotateEvent); ok {
		s.file, s.pos = re.NextBinlog, uint32(re.Position)
		return
	}
	s.pos = ev.Header.NextPos
}

// GetPosition returns the most recently observed binlog file and offset.
func (s *Session) GetPosition() (string, uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file, s.pos
}

// SetPosition disconnects, validates that file appears in SHOW BINARY LOGS
// and that offset does not exceed its size, and reconnects at the
// requested position.
func (s *Session) SetPosition(file string, offset uint32) error {
	s.mu.Lock()
	logs, tr := s.logsSnapshot()
	s.mu.Unlock()
	if tr == nil {
		return newError("set_position", KindProtocol, fmt.Errorf("not connected"))
	}
	size, ok := logs[file]
	if !ok {
		return newError("set_position", KindPosition, fmt.Errorf("file %q not found in SHOW BINARY LOGS", file))
	}
	if uint64(offset) > size {
		return newError("set_position", KindPosition, fmt.Errorf("offset %d exceeds size %d of %q", offset, size, file))
	}

	if err := s.Disconnect(); err != nil {
		return err
	}
	s.file, s.pos = file, offset
	return s.Connect()
}

// SetPositionInFile is set_position(offset) using the current file.
func (s *Session) SetPositionInFile(offset uint32) error {
	return s.SetPosition(s.file, offset)
}

func (s *Session) logsSnapshot() (map[string]uint64, *transport) {
	if s.tr == nil {
		return nil, nil
	}
	logs, err := s.tr.binaryLogs()
	if err != nil {
		return nil, s.tr
	}
	return logs, s.tr
}

// Disconnect stops the reader task, drains the queue, and closes the
// socket. It is idempotent and best-effort: it always returns nil.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tr == nil {
		return nil
	}
	close(s.done)
	// Drop the events still queued, then wake a consumer blocked on
	// queue.pop with a sentinel so it observes shutdown as io.EOF instead of
	// hanging forever.
	for len(s.queue.ch) > 0 {
		select {
		case <-s.queue.ch:
		default:
		}
	}
	select {
	case s.queue.ch <- (queueItem{err: io.EOF}):
	default:
	}
	_ = s.group.Wait()
	_ = s.tr.Close()
	s.tr = nil
	s.log.Info("binlog: disconnected")
	return nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("binlog: no certificates found in %s", path)
	}
	return pool, nil
}

// binaryLogs runs SHOW BINARY LOGS and returns a map of file name to size.
func (bl *transport) binaryLogs() (map[string]uint64, error) {
	rows, err := bl.queryRows(`show binary logs`)
	if err != nil {
		return nil, err
	}
	logs := make(map[string]uint64, len(rows))
	for _, row := range rows {
		name, _ := row[0].(string)
		sizeStr, _ := row[1].(string)
		size, err := strconv.ParseUint(sizeStr, 10, 64)
		if err != nil {
			return nil, err
		}
		logs[name] = size
	}
	return logs, nil
}
