package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect holds what differs between SQL engines. Queries are written
// with ? placeholders and rebound for engines that number them.
type Dialect struct {
	Name     string
	Numbered bool
	Schema   []string
}

// rebind rewrites ? placeholders as $1, $2, ... when the dialect numbers
// them. Queries here never contain a literal question mark.
func (d Dialect) rebind(query string) string {
	if !d.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Tables shared by every dialect. The identity table differs and is
// declared by each dialect.
const (
	CreateEntities = `CREATE TABLE IF NOT EXISTS larder_entities (
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    id_kind TEXT NOT NULL,
    fields TEXT NOT NULL,
    PRIMARY KEY (entity_type, entity_id)
)`

	CreateSequences = `CREATE TABLE IF NOT EXISTS larder_sequences (
    sequence_name TEXT PRIMARY KEY,
    next_value BIGINT NOT NULL
)`
)

const (
	selectFields = `SELECT fields FROM larder_entities WHERE entity_type = ? AND entity_id = ?`

	selectByType = `SELECT entity_id, id_kind, fields FROM larder_entities WHERE entity_type = ?`

	selectAll = `SELECT entity_type, entity_id, id_kind, fields FROM larder_entities ORDER BY entity_type`

	insertEntity = `INSERT INTO larder_entities (entity_type, entity_id, id_kind, fields)
VALUES (?, ?, ?, ?) ON CONFLICT (entity_type, entity_id) DO NOTHING`

	updateFields = `UPDATE larder_entities SET fields = ? WHERE entity_type = ? AND entity_id = ?`

	deleteEntity = `DELETE FROM larder_entities WHERE entity_type = ? AND entity_id = ?`

	nextIdentity = `INSERT INTO larder_identities (entity_type) VALUES (?) RETURNING row_id`

	reserveBlock = `INSERT INTO larder_sequences (sequence_name, next_value) VALUES (?, 1 + ?)
ON CONFLICT (sequence_name) DO UPDATE SET next_value = larder_sequences.next_value + ?
RETURNING next_value`
)
