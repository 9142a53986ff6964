package edits

// Operation is one typed edit step. The set of implementations is closed to
// this package.
type Operation interface {
	isOperation()
}

// ResizeOp resamples the image per its normalized resize.
type ResizeOp struct {
	Resize Resize
}

func (ResizeOp) isOperation() {}

// Operations resolves set into the ordered steps to apply. Resize is always
// present so that a pass-through set still decodes and re-encodes.
func Operations(set *EditSet, size SizeFunc) ([]Operation, error) {
	var resize *ResizeEdit
	if set != nil {
		resize = set.Resize
	}

	r, err := ResolveResize(resize, size)
	if err != nil {
		return nil, err
	}
	return []Operation{ResizeOp{Resize: r}}, nil
}
