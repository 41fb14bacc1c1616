package binlog

import (
	"errors"
	"fmt"
	"io"
)

// queryResponse holds one of okPacket, *resultSet.
type queryResponse interface{}

func (bl *transport) queryRows(q string) ([][]interface{}, error) {
	resp, err := bl.query(q)
	if err != nil {
		return nil, err
	}
	rs, ok := resp.(*resultSet)
	if !ok {
		return nil, nil
	}
	return rs.rows()
}

func (bl *transport) query(q string) (queryResponse, error) {
	bl.seq = 0
	w := newWriter(bl.conn, &bl.seq)
	if err := w.query(q); err != nil {
		return nil, err
	}
	r := newReader(bl.conn, &bl.seq)
	b, err := r.peek()
	if err != nil {
		return nil, err
	}
	switch b {
	case okMarker:
		ok := okPacket{}
		if err := ok.decode(r, bl.hs.capabilityFlags); err != nil {
			return nil, err
		}
		return ok, nil
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, bl.hs.capabilityFlags); err != nil {
			return nil, err
		}
		return nil, errors.New(ep.errorMessage)
	default:
		rs := resultSet{}
		if err := rs.decode(r, bl.hs.capabilityFlags); err != nil {
			return nil, err
		}
		return &rs, nil
	}
}

// readOkErr reads one more packet expecting either okPacket or errPacket,
// used at the tail of an auth-plugin exchange and after COM_REGISTER_SLAVE,
// neither of which returns rows.
func (bl *transport) readOkErr() error {
	r := newReader(bl.conn, &bl.seq)
	b, err := r.peek()
	if err != nil {
		return err
	}
	switch b {
	case okMarker:
		ok := okPacket{}
		return ok.decode(r, bl.hs.capabilityFlags)
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, bl.hs.capabilityFlags); err != nil {
			return err
		}
		return errors.New(ep.errorMessage)
	default:
		return fmt.Errorf("binlog: unexpected packet %#x while waiting for OK/ERR", b)
	}
}

// https://dev.mysql.com/doc/internals/en/com-query-response.html#column-definition

type columnDef struct {
	schema       string
	table        string
	orgTable     string
	name         string
	orgName      string
	charset      uint16
	columnLength uint32
	typ          uint8
	flags        uint16
	decimals     uint8
}

func (cd *columnDef) decode(r *reader, capabilities uint32) error {
	if capabilities&capProtocol41 == 0 {
		return fmt.Errorf("binlog: Protocol::ColumnDefinition320 not implemented")
	}
	_ = r.stringN() // catalog (always "def")
	cd.schema = r.stringN()
	cd.table = r.stringN()
	cd.orgTable = r.stringN()
	cd.name = r.stringN()
	cd.orgName = r.stringN()
	_ = r.intN() // next_length -- length of the following fields (always 0x0c)
	cd.charset = r.int2()
	cd.columnLength = r.int4()
	cd.typ = r.int1()
	cd.flags = r.int2()
	cd.decimals = r.int1()
	_ = r.skip(2) // filler
	return r.err
}

type resultSet struct {
	r            *reader
	capabilities uint32
	columnDefs   []columnDef
}

func (rs *resultSet) decode(r *reader, capabilities uint32) error {
	rs.r, rs.capabilities = r, capabilities

	ncol := r.intN()
	if r.err != nil {
		return r.err
	}
	if r.more() {
		return ErrMalformedPacket
	}

	for i := uint64(0); i < ncol; i++ {
		r.rd.(*packetReader).reset()
		cd := columnDef{}
		if err := cd.decode(r, capabilities); err != nil {
			return err
		}
		if r.more() {
			return ErrMalformedPacket
		}
		rs.columnDefs = append(rs.columnDefs, cd)
	}

	r.rd.(*packetReader).reset()
	eof := eofPacket{}
	return eof.decode(r, capabilities)
}

func (rs *resultSet) nextRow() ([]interface{}, error) {
	r := rs.r
	r.rd.(*packetReader).reset()
	b, err := r.peek()
	if err != nil {
		return nil, err
	}
	switch b {
	case eofMarker:
		eof := eofPacket{}
		if err := eof.decode(r, rs.capabilities); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case errMarker:
		ep := errPacket{}
		if err := ep.decode(r, rs.capabilities); err != nil {
			return nil, err
		}
		return nil, errors.New(ep.errorMessage)
	default:
		row := make([]interface{}, len(rs.columnDefs))
		for i := range row {
			b, err := r.peek()
			if err != nil {
				return nil, err
			}
			if b == 0xfb {
				row[i] = Null{}
				r.int1()
			} else {
				row[i] = r.stringN()
				if r.err != nil {
					return nil, r.err
				}
			}
		}
		return row, nil
	}
}

func (rs *resultSet) rows() ([][]interface{}, error) {
	var rows [][]interface{}
	for {
		row, err := rs.nextRow()
		if err != nil {
			if err == io.EOF {
				break
			}
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}
