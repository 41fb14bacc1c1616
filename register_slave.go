package binlog

import "net"

const comRegisterSlave = 0x15

// registerSlave is COM_REGISTER_SLAVE: before requesting a binlog dump, a
// replica announces itself to the master so that the master's
// SHOW SLAVE HOSTS reflects the connection and so servers that require
// registration before COM_BINLOG_DUMP (some proxies, and older MySQL/
// Percona builds) accept the dump request at all.
//
// Field order and the always-zero recovery-rank/master-id values follow
// the registration packet a real replica sends; this client has no
// notion of replication rank so it always reports zero, matching a
// freshly provisioned replica with default settings.
type registerSlave struct {
	serverID     uint32
	reportHost   string
	reportUser   string
	reportPasswd string
	reportPort   uint16
}

func (e registerSlave) encode(w *writer) error {
	w.int1(comRegisterSlave)
	w.int4(e.serverID)
	w.string1(e.reportHost)
	w.string1(e.reportUser)
	w.string1(e.reportPasswd)
	w.int2(e.reportPort)
	w.int4(0) // rpl_recovery_rank, unused by the server since MySQL 5.5
	w.int4(0) // master_id of the reporting server, unused here
	return w.err
}

// registerSlave issues COM_REGISTER_SLAVE over the already-authenticated
// connection, using localHost as the report_host (best-effort, from the
// connection's local address). report_user/report_passwd are always the
// "mrl_user"/"pw" literals, independent of the real session credentials,
// matching what a real replica registers with.
func (bl *transport) registerSlave(serverID uint32) error {
	host, _, err := net.SplitHostPort(bl.conn.LocalAddr().String())
	if err != nil {
		host = bl.conn.LocalAddr().String()
	}
	bl.seq = 0
	if err := bl.write(registerSlave{
		serverID:     serverID,
		reportHost:   host,
		reportUser:   "mrl_user",
		reportPasswd: "pw",
	}); err != nil {
		return err
	}
	return bl.readOkErr()
}
