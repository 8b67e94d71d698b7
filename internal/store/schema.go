package store

const schema = `
CREATE TABLE IF NOT EXISTS holders (
	address       TEXT PRIMARY KEY,
	balance       TEXT NOT NULL,
	last_tx_block INTEGER NOT NULL,
	last_tx_ts    INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS events (
	event_id     TEXT PRIMARY KEY,
	block_number INTEGER NOT NULL,
	tx_hash      TEXT NOT NULL,
	log_index    INTEGER NOT NULL,
	ts           INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// metaLastScannedBlock is the recognized meta key holding the highest
// block number (inclusive) scanning has completed through.
const metaLastScannedBlock = "last_scanned_block"
