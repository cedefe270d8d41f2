package namefilter

import "errors"

// Sentinel errors returned when reading a serialized filter.
//
// Both are distinct from class-file parse failures:
//
//	f, err := namefilter.LoadFile(path)
//	if errors.Is(err, namefilter.ErrBadMagic) {
//	    // not a filter file, start empty
//	}
var (
	// ErrBadMagic indicates the input does not start with the filter magic.
	// It is checked before anything size-dependent is read.
	ErrBadMagic = errors.New("namefilter: bad magic")

	// ErrCorrupt indicates a filter header with an impossible slot mask.
	//
	// Recovery: delete the file and rebuild the filter.
	ErrCorrupt = errors.New("namefilter: corrupt")
)
