/*
Package config provides configuration management for fieldcache.

Configuration is layered, later sources overriding earlier ones:

	┌─────────────────────────────────────────────┐
	│        Environment Variables                │ ← Highest Priority
	│           (FIELDCACHE_*)                    │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│         Configuration File (YAML)           │
	└─────────────────────────────────────────────┘
	                      │
	┌─────────────────────────────────────────────┐
	│           Default Values                    │ ← Lowest Priority
	└─────────────────────────────────────────────┘

# Example

	global:
	  log_level: INFO
	  log_format: json
	cache:
	  directory: /var/cache/fieldcache
	  threshold_elements: 100000
	  compression: zstd
	grid:
	  time_dimension: time
	  always_cache: true
	image:
	  scale_factor: 2
	  refresh_interval: 5m
	  s3:
	    region: us-west-2

An empty cache directory disables spilling: fields that exceed the threshold stay in memory.
*/
package config
