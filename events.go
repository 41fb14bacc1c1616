package binlog

import (
	"fmt"
	"io"
	"strings"
)

// EventType represents Binlog Event Type.
type EventType uint8

// Event Type Constants.
//
// https://dev.mysql.com/doc/internals/en/binlog-event-type.html
// https://dev.mysql.com/doc/internals/en/event-meanings.html
const (
	UNKNOWN_EVENT            EventType = 0x00 // should never occur. used when event cannot be recognized.
	START_EVENT_V3           EventType = 0x01 // descriptor event written to binlog beginning. deprecated.
	QUERY_EVENT              EventType = 0x02 // written when an updating statement is done.
	STOP_EVENT               EventType = 0x03 // written when mysqld stops.
	ROTATE_EVENT             EventType = 0x04 // written when mysqld switches to a new binary log file.
	INTVAR_EVENT             EventType = 0x05 // if stmt uses AUTO_INCREMENT col or LAST_INSERT_ID().
	LOAD_EVENT               EventType = 0x06 // used for LOAD DATA INFILE statements in MySQL 3.23.
	SLAVE_EVENT              EventType = 0x07 // not used.
	CREATE_FILE_EVENT        EventType = 0x08 // used for LOAD DATA INFILE statements in MySQL 4.0 and 4.1.
	APPEND_BLOCK_EVENT       EventType = 0x09 // used for LOAD DATA INFILE statements in MySQL 4.0 and 4.1.
	EXEC_LOAD_EVENT          EventType = 0x0a // used for LOAD DATA INFILE statements in MySQL 4.0 and 4.1.
	DELETE_FILE_EVENT        EventType = 0x0b // used for LOAD DATA INFILE statements in MySQL 4.0 and 4.1.
	NEW_LOAD_EVENT           EventType = 0x0c // used for LOAD DATA INFILE statements in MySQL 4.0 and 4.1.
	RAND_EVENT               EventType = 0x0d // if stmt uses RAND().
	USER_VAR_EVENT           EventType = 0x0e // if stmt uses a user variable.
	FORMAT_DESCRIPTION_EVENT EventType = 0x0f // descriptor event written to binlog beginning.
	XID_EVENT                EventType = 0x10 // for XA commit transaction.
	BEGIN_LOAD_QUERY_EVENT   EventType = 0x11 // used for LOAD DATA INFILE statements in MySQL 5.0.
	EXECUTE_LOAD_QUERY_EVENT EventType = 0x12 // used for LOAD DATA INFILE statements in MySQL 5.0.
	TABLE_MAP_EVENT          EventType = 0x13 // precedes rbr event. contains table definition.
	WRITE_ROWS_EVENTv0       EventType = 0x14 // logs inserts of rows in a single table.
	UPDATE_ROWS_EVENTv0      EventType = 0x15 // logs updates of rows in a single table.
	DELETE_ROWS_EVENTv0      EventType = 0x16 // logs deletions of rows in a single table.
	WRITE_ROWS_EVENTv1       EventType = 0x17 // logs inserts of rows in a single table.
	UPDATE_ROWS_EVENTv1      EventType = 0x18 // logs updates of rows in a single table.
	DELETE_ROWS_EVENTv1      EventType = 0x19 // logs deletions of rows in a single table.
	INCIDENT_EVENT           EventType = 0x1a // used to log an out of the ordinary event that occurred on the master.
	HEARTBEAT_EVENT          EventType = 0x1b // to signal that master is still alive. not written to file.
	IGNORABLE_EVENT          EventType = 0x1c
	ROWS_QUERY_EVENT         EventType = 0x1d
	WRITE_ROWS_EVENTv2       EventType = 0x1e // logs inserts of rows in a single table.
	UPDATE_ROWS_EVENTv2      EventType = 0x1f // logs updates of rows in a single table.
	DELETE_ROWS_EVENTv2      EventType = 0x20 // logs deletions of rows in a single table.
	GTID_EVENT               EventType = 0x21
	ANONYMOUS_GTID_EVENT     EventType = 0x22
	PREVIOUS_GTIDS_EVENT     EventType = 0x23
)

// Event represents Binlog Event.
type Event struct {
	Header EventHeader
	Data   interface{} // one of XXXEvent
}

var eventTypeNames = map[EventType]string{
	UNKNOWN_EVENT:            "unknown",
	START_EVENT_V3:           "startV3",
	QUERY_EVENT:              "query",
	STOP_EVENT:               "stop",
	ROTATE_EVENT:             "rotate",
	INTVAR_EVENT:             "inVar",
	LOAD_EVENT:               "load",
	SLAVE_EVENT:              "slave",
	CREATE_FILE_EVENT:        "createFile",
	APPEND_BLOCK_EVENT:       "appendBlock",
	EXEC_LOAD_EVENT:          "execLoad",
	DELETE_FILE_EVENT:        "deleteFile",
	NEW_LOAD_EVENT:           "newLoad",
	RAND_EVENT:               "rand",
	USER_VAR_EVENT:           "userVar",
	FORMAT_DESCRIPTION_EVENT: "formatDescription",
	XID_EVENT:                "xid",
	BEGIN_LOAD_QUERY_EVENT:   "beginLoadQuery",
	EXECUTE_LOAD_QUERY_EVENT: "executeLoadQuery",
	TABLE_MAP_EVENT:          "tableMap",
	WRITE_ROWS_EVENTv0:       "writeRowsV0",
	UPDATE_ROWS_EVENTv0:      "updateRowsV0",
	DELETE_ROWS_EVENTv0:      "deleteRowsV0",
	WRITE_ROWS_EVENTv1:       "writeRowsV1",
	UPDATE_ROWS_EVENTv1:      "updateRowsV1",
	DELETE_ROWS_EVENTv1:      "deleteRowsV1",
	INCIDENT_EVENT:           "incident",
	HEARTBEAT_EVENT:          "heartbeat",
	IGNORABLE_EVENT:          "ignorable",
	ROWS_QUERY_EVENT:         "rowsQuery",
	WRITE_ROWS_EVENTv2:       "writeRowsV2",
	UPDATE_ROWS_EVENTv2:      "updateRowsV2",
	DELETE_ROWS_EVENTv2:      "deleteRowsV2",
	GTID_EVENT:               "gtid",
	ANONYMOUS_GTID_EVENT:     "anonymousGTID",
	PREVIOUS_GTIDS_EVENT:     "previousGTID",
}

func (t EventType) String() string {
	if s, ok := eventTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

// IsWriteRows tells if this EventType WRITE_ROWS_EVENT.
// MySQL has multiple versions of WRITE_ROWS_EVENT.
func (t EventType) IsWriteRows() bool {
	return t == WRITE_ROWS_EVENTv0 || t == WRITE_ROWS_EVENTv1 || t == WRITE_ROWS_EVENTv2
}

// IsUpdateRows tells if this EventType UPDATE_ROWS_EVENT.
// MySQL has multiple versions of UPDATE_ROWS_EVENT.
func (t EventType) IsUpdateRows() bool {
	return t == UPDATE_ROWS_EVENTv0 || t == UPDATE_ROWS_EVENTv1 || t == UPDATE_ROWS_EVENTv2
}

// IsDeleteRows tells if this EventType DELETE_ROWS_EVENT.
// MySQL has multiple versions of DELETE_ROWS_EVENT.
func (t EventType) IsDeleteRows() bool {
	return t == DELETE_ROWS_EVENTv0 || t == DELETE_ROWS_EVENTv1 || t == DELETE_ROWS_EVENTv2
}

// EventHeader represents Binlog Event Header.
//
// https://dev.mysql.com/doc/internals/en/binlog-event-header.html
// https://dev.mysql.com/doc/internals/en/event-header-fields.html
type EventHeader struct {
	Timestamp uint32    // seconds since unix epoch
	EventType EventType // binlog event type
	ServerID  uint32    // server-id of the originating mysql-server
	EventSize uint32    // size of the event (header + post-header + body)
	LogFile   string    // logfile of the next event
	NextPos   uint32    // position of the next event
	Flags     uint16    // flags
}

func (h *EventHeader) decode(r *reader) error {
	h.Timestamp = r.int4()
	h.EventType = EventType(r.int1())
	h.ServerID = r.int4()
	h.EventSize = r.int4()
	if r.fde.BinlogVersion > 1 {
		h.NextPos = r.int4()
		h.Flags = r.int2()
	}
	return r.err
}

// ChecksumAlg identifies the algorithm protecting every event that follows a
// FORMAT_DESCRIPTION event in the stream.
type ChecksumAlg uint8

const (
	// ChecksumOff means events carry no trailing checksum.
	ChecksumOff ChecksumAlg = iota
	// ChecksumCRC32 means every event is followed by a 4-byte CRC32.
	ChecksumCRC32
	// ChecksumUndef means the originating server predates the checksum
	// feature (< 5.6.1): it has no notion of a checksum algorithm at all.
	ChecksumUndef
)

func (a ChecksumAlg) String() string {
	switch a {
	case ChecksumOff:
		return "OFF"
	case ChecksumCRC32:
		return "CRC32"
	default:
		return "UNDEF"
	}
}

// binlogChecksumLen is the on-wire size of a CRC32 trailer.
const binlogChecksumLen = 4

// FormatDescriptionEvent is written to the beginning of the each binary log file.
// This event is used as of MySQL 5.0; it supersedes START_EVENT_V3.
//
// https://dev.mysql.com/doc/internals/en/format-description-event.html
type FormatDescriptionEvent struct {
	BinlogVersion          uint16 // version of this binlog format
	ServerVersion          string // version of the MySQL Server that created the binlog
	CreateTimestamp        uint32 // seconds since Unix epoch when the binlog was created
	EventHeaderLength      uint8  // length of the Binlog Event Header of next events
	EventTypeHeaderLengths []byte // post-header lengths for different event-types
	ChecksumAlg            ChecksumAlg
}

// decode parses the FD event body. On a checksum-aware server (server
// version >= 5.6.1, see checksumAwareVersion) the body always reserves its
// last 5 bytes for a 1-byte checksum-algorithm descriptor followed by a
// 4-byte checksum slot, whether or not a checksum is actually in effect;
// older servers carry neither and are recorded as ChecksumUndef.
func (e *FormatDescriptionEvent) decode(r *reader, eventSize uint32) error {
	e.BinlogVersion = r.int2()
	e.ServerVersion = r.string(50)
	if i := strings.IndexByte(e.ServerVersion, 0); i != -1 {
		e.ServerVersion = e.ServerVersion[:i]
	}
	e.CreateTimestamp = r.int4()
	e.EventHeaderLength = r.int1()

	headerLen := 13
	if r.fde.BinlogVersion > 1 {
		headerLen = 19
	}
	remaining := int(eventSize) - headerLen - (2 + 50 + 4 + 1)
	if remaining < 0 {
		remaining = 0
	}
	body := r.bytes(remaining)
	if r.err != nil {
		return r.err
	}

	if checksumAwareVersion(e.ServerVersion) && len(body) >= binlogChecksumLen+1 {
		switch alg := body[len(body)-binlogChecksumLen-1]; alg {
		case 0:
			e.ChecksumAlg = ChecksumOff
		case 1:
			e.ChecksumAlg = ChecksumCRC32
		default:
			e.ChecksumAlg = ChecksumUndef
		}
		e.EventTypeHeaderLengths = body[:len(body)-binlogChecksumLen-1]
	} else {
		e.ChecksumAlg = ChecksumUndef
		e.EventTypeHeaderLengths = body
	}

	if e.ChecksumAlg == ChecksumCRC32 {
		r.checksum = binlogChecksumLen
	} else {
		r.checksum = 0
	}
	return nil
}

func (e *FormatDescriptionEvent) postHeaderLength(typ EventType, def int) int {
	if len(e.EventTypeHeaderLengths) >= int(typ) {
		return int(e.EventTypeHeaderLengths[typ-1])
	}
	return def
}

// RotateEvent is written when mysqld switches to a new binary log file.
// This occurs when someone issues a FLUSH LOGS statement or
// the current binary log file becomes too large.
// The maximum size is determined by max_binlog_size.
//
// https://dev.mysql.com/doc/internals/en/rotate-event.html
type RotateEvent struct {
	Position   uint64 // position of next event
	NextBinlog string // name of next binlog file
}

func (e *RotateEvent) decode(r *reader) error {
	if r.fde.BinlogVersion > 1 {
		e.Position = r.int8()
	}
	e.NextBinlog = r.stringEOF()
	return r.err
}

// QueryEvent is written when an updating statement is done.
// The query event is used to send text query right the binlog.
//
// https://dev.mysql.com/doc/internals/en/query-event.html
type QueryEvent struct {
	SlaveProxyID  uint32
	ExecutionTIme uint32
	ErrorCode     uint16
	StatusVars    []byte
	Schema        string
	Query         string
}

func (e *QueryEvent) decode(r *reader) error {
	e.SlaveProxyID = r.int4()
	e.ExecutionTIme = r.int4()
	schemaLen := r.int1()
	if r.err != nil {
		return r.err
	}
	e.ErrorCode = r.int2()
	statusVarsLen := r.int2()
	if r.err != nil {
		return r.err
	}
	e.StatusVars = r.bytes(int(statusVarsLen))
	e.Schema = r.string(int(schemaLen))
	r.skip(1)
	e.Query = r.stringEOF()
	return r.err
}

// IncidentEvent used to log an out of the ordinary event that
// occurred on the master. It notifies the slave that something
// happened on the master that might cause data to be in an
// inconsistent state.
//
// https://dev.mysql.com/doc/internals/en/incident-event.html
type IncidentEvent struct {
	Type    uint16
	Message string
}

func (e *IncidentEvent) decode(r *reader) error {
	e.Type = r.int2()
	size := r.int1()
	e.Message = r.string(int(size))
	return r.err
}

// RandEvent is written every time a statement uses the RAND() function.
// It precedes other events for the statement. Indicates the seed values
// to use for generating a random number with RAND() in the next statement.
// This is written only before a QUERY_EVENT and is not used with row-based logging.
//
// https://dev.mysql.com/doc/internals/en/rand-event.html
type RandEvent struct {
	Seed1 uint64
	Seed2 uint64
}

func (e *RandEvent) decode(r *reader) error {
	e.Seed1 = r.int8()
	e.Seed2 = r.int8()
	return r.err
}

// StopEvent signals last event in the file.
//
// https://dev.mysql.com/doc/internals/en/stop-event.html
type StopEvent struct{}

// IntVarEvent written every time a statement uses an AUTO_INCREMENT column
// or the LAST_INSERT_ID() function. It precedes other events for the statement.
// This is written only before a QUERY_EVENT and is not used with row-based logging.
//
// https://dev.mysql.com/doc/internals/en/intvar-event.html
type IntVarEvent struct {
	// Type indicates subtype.
	//
	// INSERT_ID_EVENT(0x02) indicates the value to use for an AUTO_INCREMENT column in the next statement.
	//
	// LAST_INSERT_ID_EVENT(0x01) indicates the value to use for the LAST_INSERT_ID() function in the next statement.
	Type  uint8
	Value uint64
}

func (e *IntVarEvent) decode(r *reader) error {
	e.Type = r.int1()
	e.Value = r.int8()
	return r.err
}

// UserVarEvent is written every time a statement uses a user variable.
// It precedes other events for the statement. Indicates the value to
// use for the user variable in the next statement. This is written only
// before a QUERY_EVENT and is not used with row-based logging.
//
// https://dev.mysql.com/doc/internals/en/user-var-event.html
type UserVarEvent struct {
	Name     string
	Null     bool
	Type     uint8
	Charset  uint32
	Value    []byte
	Unsigned bool
}

func (e *UserVarEvent) decode(r *reader) error {
	nameLen := r.int4()
	if r.err != nil {
		return r.err
	}
	e.Name = r.string(int(nameLen))
	e.Null = r.int1() == 0
	if r.err != nil {
		return r.err
	}
	if !e.Null {
		e.Type = r.int1()
		e.Charset = r.int4()
		valueLen := r.int4()
		if r.err != nil {
			return r.err
		}
		e.Value = r.bytes(int(valueLen))
		if r.more() {
			e.Unsigned = (r.int1() & 0x01) != 0
		}
	}
	return r.err
}

// HeartbeatEvent sent by a master to a slave to let the slave
// know that the master is still alive. Not written to log files.
//
// https://dev.mysql.com/doc/internals/en/heartbeat-event.html
type HeartbeatEvent struct{}

// UnknownEvent should never occur. It is never written to a binary log.
// If an event is read from a binary log that cannot be recognized as
// something else, it is treated as UNKNOWN_EVENT.
type UnknownEvent struct{}

// XidEvent is generated for a commit of a transaction that modifies one or
// more tables of an XA-capable storage engine.
//
// https://dev.mysql.com/doc/internals/en/xid-event.html
type XidEvent struct {
	XID uint64
}

func (e *XidEvent) decode(r *reader) error {
	e.XID = r.int8()
	return r.err
}

// GTIDEvent specifies a GTID (global transaction identifier) assigned to
// the transaction that follows in the stream.
//
// https://dev.mysql.com/doc/internals/en/gtid-event.html
type GTIDEvent struct {
	CommitFlag bool
	SID        []byte // 16-byte UUID
	GNO        int64
}

func (e *GTIDEvent) decode(r *reader) error {
	e.CommitFlag = r.int1() != 0
	e.SID = r.bytes(16)
	e.GNO = int64(r.int8())
	// remaining bytes (logical timestamp typecode, last_committed,
	// sequence_number, ...) added by later servers are not needed to
	// identify the transaction and are left undecoded.
	return r.err
}

// OpaqueEvent is used for event types this client recognizes by name but
// does not need to decode field-by-field — the raw body is kept verbatim.
type OpaqueEvent struct {
	Body []byte
}

func (e *OpaqueEvent) decode(r *reader) error {
	e.Body = r.bytesEOF()
	return r.err
}

// nextEvent reads one binlog event frame: the 19-byte header (or 13-byte for
// binlog version 1) followed by a type-specific body truncated to exclude
// the trailing checksum, dispatches to the typed decoder, and — for ROTATE,
// TABLE_MAP and the ROWS family — updates the reader's tracking state
// (current file/position, table-map cache, in-flight rows event) that
// later calls (nextRow) and EventHeader.LogFile depend on.
func nextEvent(r *reader, checksumLen int) (Event, error) {
	h := EventHeader{}
	if err := h.decode(r); err != nil {
		return Event{}, err
	}
	headerLen := 13
	if r.fde.BinlogVersion > 1 {
		headerLen = 19
	}
	if h.EventType != FORMAT_DESCRIPTION_EVENT {
		body := int(h.EventSize) - headerLen - checksumLen
		if body < 0 {
			body = 0
		}
		r.limit = body
	}

	var data interface{}
	var err error
	switch h.EventType {
	case FORMAT_DESCRIPTION_EVENT:
		fde := FormatDescriptionEvent{}
		err = fde.decode(r, h.EventSize)
		if err == nil {
			r.fde = fde
			r.skipChecksumRead = true
		}
		data = fde
	case ROTATE_EVENT:
		re := RotateEvent{}
		err = re.decode(r)
		if err == nil {
			r.binlogFile = re.NextBinlog
			r.binlogPos = uint32(re.Position)
			r.tmeCache = make(map[uint64]*TableMapEvent)
		}
		data = re
	case QUERY_EVENT:
		qe := QueryEvent{}
		err = qe.decode(r)
		data = qe
	case XID_EVENT:
		xe := XidEvent{}
		err = xe.decode(r)
		data = xe
	case INTVAR_EVENT:
		ie := IntVarEvent{}
		err = ie.decode(r)
		data = ie
	case RAND_EVENT:
		re := RandEvent{}
		err = re.decode(r)
		data = re
	case USER_VAR_EVENT:
		ue := UserVarEvent{}
		err = ue.decode(r)
		data = ue
	case INCIDENT_EVENT:
		ie := IncidentEvent{}
		err = ie.decode(r)
		data = ie
	case ROWS_QUERY_EVENT:
		rq := RowsQueryEvent{}
		err = rq.decode(r)
		data = rq
	case TABLE_MAP_EVENT:
		tme := TableMapEvent{}
		err = tme.decode(r)
		if err == nil {
			r.tmeCache[tme.tableID] = &tme
		}
		data = tme
	case WRITE_ROWS_EVENTv0, WRITE_ROWS_EVENTv1, WRITE_ROWS_EVENTv2,
		UPDATE_ROWS_EVENTv0, UPDATE_ROWS_EVENTv1, UPDATE_ROWS_EVENTv2,
		DELETE_ROWS_EVENTv0, DELETE_ROWS_EVENTv1, DELETE_ROWS_EVENTv2:
		re := RowsEvent{}
		err = re.decode(r, h.EventType)
		if err == nil {
			r.re = re
			for {
				after, before, rowErr := nextRow(r)
				if rowErr == io.EOF {
					break
				}
				if rowErr != nil {
					err = rowErr
					break
				}
				if h.EventType.IsDeleteRows() {
					// nextRow returns a deleted row's image first; it is the
					// before-image of the change.
					before, after = after, nil
				}
				re.Rows = append(re.Rows, RowChange{Before: before, After: after})
			}
			r.re = re
		}
		data = re
	case GTID_EVENT, ANONYMOUS_GTID_EVENT:
		ge := GTIDEvent{}
		err = ge.decode(r)
		data = ge
	case STOP_EVENT:
		data = StopEvent{}
	case HEARTBEAT_EVENT:
		data = HeartbeatEvent{}
	case UNKNOWN_EVENT:
		data = UnknownEvent{}
	default:
		oe := OpaqueEvent{}
		err = oe.decode(r)
		data = oe
	}
	if err != nil {
		return Event{}, err
	}
	h.LogFile = r.binlogFile
	return Event{Header: h, Data: data}, nil
}
