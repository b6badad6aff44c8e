// Package config defines configuration for the bundle delivery subsystem.
//
// Configuration can be provided via:
//   - Programmatic defaults ([Default])
//   - YAML configuration file ([LoadFromFile])
//   - Environment variables (BUNDLER_ prefix, [Config.LoadFromEnv])
//   - Explicit overrides ([Config.Merge])
//
// Later layers win. Byte sizes accept human-readable strings ("512MB") and
// durations accept Go duration syntax ("15s").
package config
