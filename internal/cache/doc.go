/*
Package cache implements the disk side of field spilling.

A Store owns one spill directory. Each spilled field gets its own file, named
field_<unix millis>_<counter>.spill so that concurrently created fields never collide:

	┌──────────────┐  Write(path, data)   ┌───────────────────────────┐
	│ field.Field  │ ───────────────────► │ <dir>/field_..._17.spill  │
	│              │ ◄─────────────────── │  magic | header | payload │
	└──────────────┘  ReadFile(path)      └───────────────────────────┘

The header is msgpack-encoded and records the codec, the component lengths and a SHA-256 of the
uncompressed payload. The payload holds raw float32 bit patterns, so a round trip is exact,
NaN payloads included. Writes go to a temporary file that is renamed into place, so a spill file
that exists is always complete.

Payload compression is optional (gzip or zstd, both from klauspost/compress). The codec is stored
per file, so changing the configuration never strands older files.

The store never deletes files on its own. Clear is for the owner of the directory.
*/
package cache
