package pgclient

// Row is one result row: one Value per ColumnMetadata of the owning
// Statement, in text format. A nil entry denotes SQL NULL.
type Row struct {
	Columns []*string
}

// ColumnMetadata describes one result column of a prepared Statement.
type ColumnMetadata struct {
	Name                  string
	TableOID              uint32
	ColumnAttributeNumber uint16
	DataTypeOID           uint32
	DataTypeSize          int16
	DataTypeModifier      int32
}
