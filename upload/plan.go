package upload

// PlanParts computes the part layout for a source of the given size. It picks
// the smallest part size that is at least partSizeHint (and the store
// minimum) while keeping the part count within limits. Deterministic: the
// same inputs always yield the same plan.
//
// A source smaller than the minimum part size still produces exactly one
// short part; stores accept a short only/final part.
func PlanParts(fileSize int64, partSizeHint int64, limits PartLimits) (UploadPlan, error) {
	if fileSize == 0 {
		return UploadPlan{}, ErrEmptyFile
	}
	maxSize := limits.MaxPartSize * int64(limits.MaxParts)
	if fileSize > maxSize {
		return UploadPlan{}, &InvalidSizeError{Size: fileSize, MaxSize: maxSize}
	}

	partSize := limits.MinPartSize
	if partSizeHint > partSize {
		partSize = partSizeHint
	}
	// Smallest part size that keeps the count within the store limit.
	if minForCount := ceilDiv(fileSize, int64(limits.MaxParts)); minForCount > partSize {
		partSize = minForCount
	}
	if partSize > limits.MaxPartSize {
		partSize = limits.MaxPartSize
	}

	count := ceilDiv(fileSize, partSize)
	parts := make([]PartSpec, 0, count)
	var offset int64
	for i := int64(0); i < count; i++ {
		length := partSize
		if remaining := fileSize - offset; remaining < length {
			length = remaining
		}
		parts = append(parts, PartSpec{
			Index:  int32(i) + 1,
			Offset: offset,
			Length: length,
		})
		offset += length
	}

	return UploadPlan{
		FileSize: fileSize,
		PartSize: partSize,
		Parts:    parts,
	}, nil
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
