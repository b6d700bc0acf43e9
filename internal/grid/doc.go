/*
Package grid provides fields over gridded data sets.

A Source wraps a Backend and hands out one field per variable and time index:

	backend, err := grid.OpenNetCDF("wrfout.nc", "time", logger)
	if err != nil {
		return err
	}
	src := grid.NewSource(mgr, backend, grid.WithAlwaysCache(true))
	temp, err := src.Field(ctx, "T2", 6)

Fields are lazy. The first read takes the backend's lock from a Locks registry, reads the volume
for the time index and releases the lock; the field's own mutex is held throughout, so the
backend lock is always taken second. A volume with one more dimension than the field declares,
such as a single-level 3-D grid, is sliced at index 0 along the extra axis.
*/
package grid
