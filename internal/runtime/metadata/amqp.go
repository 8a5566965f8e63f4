package metadata

import (
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// FromTable converts AMQP headers into Metadata. Non-string values are
// rendered with their default formatting so foreign publishers still surface
// their headers to handlers.
func FromTable(table amqp.Table) Metadata {
	md := make(Metadata, len(table))
	for k, v := range table {
		switch val := v.(type) {
		case string:
			md[k] = val
		case []byte:
			md[k] = string(val)
		case time.Time:
			md[k] = val.UTC().Format(time.RFC3339Nano)
		case nil:
			md[k] = ""
		default:
			md[k] = fmt.Sprint(val)
		}
	}
	return md
}

// ToTable converts Metadata into AMQP headers.
func (m Metadata) ToTable() amqp.Table {
	table := make(amqp.Table, len(m))
	for k, v := range m {
		table[k] = v
	}
	return table
}
