package field

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/fieldcache/fieldcache/pkg/errors"
	"github.com/fieldcache/fieldcache/pkg/types"
)

// CloneWithMetadata returns a field of the same kind described by meta, whose shape must address
// the same number of components and samples. Without copyData the clone is a view reading
// through this field's root and inheriting its ranges. With copyData the clone owns a deep copy
// of the current data and spills independently.
func (f *Field) CloneWithMetadata(ctx context.Context, copyData bool, meta types.Metadata) (*Field, error) {
	if err := meta.Shape.Validate(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeShapeMismatch, err, "invalid clone shape").
			WithComponent("field").
			WithOperation("clone")
	}
	if !meta.Shape.Compatible(f.meta.Shape) {
		return nil, errors.Newf(errors.ErrCodeShapeMismatch,
			"clone shape %s does not match field shape %s", meta.Shape, f.meta.Shape).
			WithComponent("field").
			WithOperation("clone").
			WithContext("field", f.id)
	}
	meta = meta.Clone()

	if copyData {
		data := f.GetBuffer(ctx, true)
		c, err := f.source.CloneWithBuffer(meta.Shape, data, meta)
		if err != nil {
			return nil, err
		}
		c.id = f.cloneID()
		c.logger = c.logger.WithField("field", c.id)
		return c, nil
	}

	c, err := f.source.CloneWithBuffer(meta.Shape, nil, meta)
	if err != nil {
		return nil, err
	}

	f.syncRanges()
	f.mu.Lock()
	ranges := cloneRanges(f.ranges)
	sampleRanges := cloneRanges(f.sampleRanges)
	generation := f.generation
	f.mu.Unlock()

	root := f.root()
	c.own = nil
	c.parent = root
	c.ranges = ranges
	c.sampleRanges = sampleRanges
	c.generation = generation
	c.id = f.cloneID()
	c.logger = c.logger.WithFields(logrus.Fields{"field": c.id, "parent": root.id})
	return c, nil
}

func (f *Field) cloneID() string {
	return fmt.Sprintf("%s/clone-%d", f.id, f.clones.Add(1))
}
