package binlog

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"net"
	"strconv"
	"time"
)

// ErrMalformedPacket used to indicate malformed packet.
var ErrMalformedPacket = errors.New("malformed packet")

// transport carries one live connection to a MySQL server speaking the
// replication protocol: the handshake, authentication, admin queries and
// the binlog event stream all flow through it. Session wraps a transport
// with position bookkeeping, the event queue and the handler pipeline.
type transport struct {
	conn net.Conn
	seq  uint8
	hs   handshake

	// auth-plugin state, carried across Authenticate calls so a cached
	// RSA key need not be requested twice in one connection's lifetime.
	authFlow []string
	pubKey   *rsa.PublicKey

	// binlog related
	requestFile  string
	requestPos   uint32
	binlogReader *reader
	checksum     int // binlog checksum length (0 or 4), negotiated from the stream's FD event
}

// dialTransport connects to the MySQL server specified and reads its
// initial handshake greeting.
func dialTransport(network, address string, cfg tcpKeepaliveConfig) (*transport, error) {
	conn, err := net.Dial(network, address)
	if err != nil {
		return nil, err
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		if err := cfg.apply(tc); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}
	var seq uint8
	r := newReader(conn, &seq)
	hs := handshake{}
	if err = hs.decode(r); err != nil {
		_ = conn.Close()
		return nil, err
	}
	// unset the features we dont support
	hs.capabilityFlags &= ^uint32(capSessionTrack)
	return &transport{
		conn: conn,
		seq:  seq,
		hs:   hs,
	}, nil
}

// IsSSLSupported tells whether MySQL server supports SSL.
func (bl *transport) IsSSLSupported() bool {
	return bl.hs.capabilityFlags&capSSL != 0
}

// UpgradeSSL upgrades current connection to SSL. If rootCAs is nil,
// it will use InsecureSkipVerify true value. This should be done
// before Authenticate call
func (bl *transport) UpgradeSSL(rootCAs *x509.CertPool) error {
	err := bl.write(sslRequest{
		capabilityFlags: capLongFlag | capSecureConnection,
		maxPacketSize:   maxPacketSize,
		characterSet:    bl.hs.characterSet,
	})
	if err != nil {
		return err
	}
	tlsConf := &tls.Config{}
	if rootCAs != nil {
		tlsConf.RootCAs = rootCAs
	} else {
		tlsConf.InsecureSkipVerify = true
	}
	bl.conn = tls.Client(bl.conn, tlsConf)
	return nil
}

// ListFiles lists the binary log files on the server,
// in the order they were created. It is equivalent to
// `SHOW BINARY LOGS` statement.
func (bl *transport) ListFiles() ([]string, error) {
	rows, err := bl.queryRows(`show binary logs`)
	if err != nil {
		return nil, err
	}
	files := make([]string, len(rows))
	for i := range files {
		files[i] = rows[i][0].(string)
	}
	return files, nil
}

// MasterStatus provides status information about the binary log files of the server.
// It is equivalent to `SHOW MASTER STATUS` statement.
func (bl *transport) MasterStatus() (file string, pos uint32, err error) {
	rows, err := bl.queryRows(`show master status`)
	if err != nil {
		return "", 0, err
	}
	if len(rows) == 0 {
		return "", 0, nil
	}
	off, err := strconv.Atoi(rows[0][1].(string))
	return rows[0][0].(string), uint32(off), err
}

// SetHeartbeatPeriod configures the interval to send HeartBeatEvent in absence of data.
// This avoids connection timeout occurring in the absence of data. Setting interval to 0
// disables heartbeats altogether.
//
// Use this, if you are using non-zero serverID to Seek method. In this case, server sends
// heartbeatEvents when there are no more events.
func (bl *transport) SetHeartbeatPeriod(d time.Duration) error {
	_, err := bl.query(fmt.Sprintf("SET @master_heartbeat_period=%d", d))
	return err
}

// confirmChecksumSupport tells the server the client understands
// checksummed events, a prerequisite for COM_BINLOG_DUMP on any server
// with binlog_checksum enabled. The actual algorithm in effect is not
// read from here: it is negotiated later from each FORMAT_DESCRIPTION
// event's own payload (see FormatDescriptionEvent.decode).
func (bl *transport) confirmChecksumSupport() error {
	_, err := bl.query(`set @master_binlog_checksum = @@global.binlog_checksum`)
	return err
}

// Seek requests binlog at fileName and position.
//
// if serverID is zero, NextEvent return io.EOF when there are no ore events.
// if serverID is non-zero, NextEvent waits for new events.
func (bl *transport) Seek(serverID uint32, fileName string, position uint32) error {
	if err := bl.confirmChecksumSupport(); err != nil {
		return err
	}
	// checksum_alg is UNDEF until the first FORMAT_DESCRIPTION event of the
	// stream is decoded.
	bl.checksum = 0
	bl.seq = 0
	err := bl.write(comBinlogDump{
		binlogPos:      position,
		flags:          0,
		serverID:       serverID,
		binlogFilename: fileName,
	})
	bl.requestFile, bl.requestPos = fileName, position
	return err
}

func (bl *transport) binlogVersion() (uint16, error) {
	sv, err := newServerVersion(bl.hs.serverVersion)
	if err != nil {
		return 0, err
	}
	return sv.binlogVersion(), nil
}

// NextEvent return next binlog event.
//
// return io.EOF when there are no more Events
func (bl *transport) NextEvent() (Event, error) {
	// checksum: https://dev.mysql.com/worklog/task/?id=2540#tabs-2540-4
	r := bl.binlogReader
	if r == nil {
		r = newReader(bl.conn, &bl.seq)
		v, err := bl.binlogVersion()
		if err != nil {
			return Event{}, err
		}
		r.checksum = bl.checksum
		r.hash = crc32.NewIEEE()
		r.fde = FormatDescriptionEvent{BinlogVersion: v}
		bl.binlogReader = r
	} else {
		if err := r.drain(); err != nil {
			return Event{}, fmt.Errorf("binlog.NextEvent: error in draining event: %v", err)
		}
		if r.skipChecksumRead {
			// the previous event was a FORMAT_DESCRIPTION event: it already
			// consumed its own trailing checksum bytes (if any) while parsing
			// its fixed-layout body, so there is nothing left to validate here.
			// hash may hold bytes accumulated under the pre-negotiation
			// checksum length (relevant for a second FD event mid-stream,
			// e.g. after a ROTATE to a new binlog file) and must not leak
			// into the next event's accumulation.
			r.skipChecksumRead = false
			if r.hash != nil {
				r.hash.Reset()
			}
		} else if r.checksum > 0 {
			got := r.hash.Sum32()
			r.limit = -1
			want := r.int4()
			if r.err != nil {
				return Event{}, r.err
			}
			r.hash.Reset()
			if got != want {
				return Event{}, fmt.Errorf("binlog.NextEvent: checksum failed got=%d want=%d", got, want)
			}
		}
		r.limit = -1
		r.rd = &packetReader{rd: bl.conn, seq: &bl.seq}
	}
	// Check first byte.
	b, err := r.peek()
	if err != nil {
		return Event{}, err
	}
	switch b {
	case okMarker:
		r.int1()
	case eofMarker:
		eof := eofPacket{}
		if err := eof.decode(r, bl.hs.capabilityFlags); err != nil {
			return Event{}, err
		}
		return Event{}, io.EOF
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, bl.hs.capabilityFlags); err != nil {
			return Event{}, err
		}
		return Event{}, errors.New(ep.errorMessage)
	default:
		return Event{}, fmt.Errorf("binlogStream: got %0x want OK-byte", b)
	}
	ev, err := nextEvent(r, bl.checksum)
	bl.checksum = r.checksum
	return ev, err
}

// Close closes connection.
func (bl *transport) Close() error {
	return bl.conn.Close()
}

func (bl *transport) write(event interface{ encode(w *writer) error }) error {
	w := newWriter(bl.conn, &bl.seq)
	if err := event.encode(w); err != nil {
		return err
	}
	return w.Close()
}

// comBinlogDump ---

type comBinlogDump struct {
	binlogPos      uint32
	flags          uint16
	serverID       uint32
	binlogFilename string
}

func (e comBinlogDump) encode(w *writer) error {
	w.int1(0x12) // COM_BINLOG_DUMP
	w.int4(e.binlogPos)
	w.int2(e.flags)
	w.int4(e.serverID)
	w.string(e.binlogFilename)
	return w.err
}
