/*
Package binlog implements a MySQL/MariaDB replication client: it speaks the
wire protocol a replica speaks to register itself with a master and stream
row-based binlog events, decoding them into Go values.

To connect and start streaming:

	s := binlog.NewSession("tcp", "localhost:3306", "root", "secret")
	s.ContentHandlerPipeline().Add(binlog.NewTransactionAggregator())
	if err := s.Connect(); err != nil {
		return err
	}
	defer s.Disconnect()

	for {
		var e binlog.Event
		if err := s.WaitForNextEvent(&e); err != nil {
			if err == io.EOF {
				break
			}
			return err
		}
		switch data := e.Data.(type) {
		case binlog.TransactionEvent:
			for _, stmt := range data.Statements {
				fmt.Printf("table=%s.%s rows=%d\n",
					stmt.Table.SchemaName, stmt.Table.TableName, len(stmt.Rows))
			}
		}
	}

Connect negotiates the checksum algorithm, registers as a replica via
COM_REGISTER_SLAVE and issues COM_BINLOG_DUMP starting from the position set
with SetPosition, or the master's current position if none was set.

WaitForNextEvent runs every event through the content handler pipeline
before returning it; TransactionAggregator, the bundled handler, collapses
the TABLE_MAP/ROWS/XID sequence that makes up one committed transaction into
a single TransactionEvent.
*/
package binlog
