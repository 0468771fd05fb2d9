package imdb

import "github.com/pkg/errors"

// Background is the label of index 0 in every class set.
const Background = "__background__"

// ClassSet is an ordered list of class labels with background at index 0.
type ClassSet struct {
	// Names holds the labels in model output order.
	Names []string
	// nameToIdx for fast lookup by name
	nameToIdx map[string]int
}

// NewClassSet builds a class set. A background label is prepended when
// names does not already start with one.
func NewClassSet(names ...string) *ClassSet {
	if len(names) == 0 || names[0] != Background {
		names = append([]string{Background}, names...)
	}
	s := &ClassSet{Names: names, nameToIdx: make(map[string]int, len(names))}
	for i, n := range names {
		s.nameToIdx[n] = i
	}
	return s
}

// Len returns the number of classes including background.
func (s *ClassSet) Len() int { return len(s.Names) }

// Name returns the label of a class index.
func (s *ClassSet) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(s.Names) {
		return "", errors.Errorf("class index %d out of range [0, %d)", idx, len(s.Names))
	}
	return s.Names[idx], nil
}

// Index returns the class index of a label.
func (s *ClassSet) Index(name string) (int, error) {
	idx, ok := s.nameToIdx[name]
	if !ok {
		return -1, errors.Errorf("class %q not in set", name)
	}
	return idx, nil
}

// VOCClasses returns the 20 Pascal VOC classes + "__background__" at index 0.
func VOCClasses() *ClassSet {
	return NewClassSet(
		Background,
		"aeroplane", "bicycle", "bird", "boat", "bottle",
		"bus", "car", "cat", "chair", "cow",
		"diningtable", "dog", "horse", "motorbike", "person",
		"pottedplant", "sheep", "sofa", "train", "tvmonitor",
	)
}
