/*
Package imagery provides fields over raster images.

Images are read from local paths, http(s) URLs or s3://bucket/key objects by a Loader, decoded
(png, jpeg, gif, bmp, tiff and webp) and turned into a component-major array: one luminance
component for Gray, three for RGB. A scale factor shrinks both axes with nearest-neighbour
sampling.

	loader := imagery.NewLoaderFromConfig(cfg.Image, logger)
	f, err := imagery.NewField(ctx, mgr, loader, "https://example.com/goes/band13.png",
		imagery.DecodeOptions{Bands: imagery.Gray, ScaleFactor: 2})

A failed load or decode makes the field report missing samples until a later fetch succeeds. A
Refresher reloads the image on an interval and swaps the new array in with Field.Replace.
*/
package imagery
