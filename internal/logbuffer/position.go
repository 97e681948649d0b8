package logbuffer

// Position packs a logical partition id and an offset inside that partition
// into one int64. Callers must treat it as opaque and use these functions to
// build or inspect it.
func Position(partitionID, partitionOffset int32) int64 {
	return int64(partitionID)<<32 | int64(uint32(partitionOffset))
}

// PartitionID extracts the logical partition id from a position.
func PartitionID(position int64) int32 {
	return int32(position >> 32)
}

// PartitionOffset extracts the partition offset from a position.
func PartitionOffset(position int64) int32 {
	return int32(uint32(position))
}
