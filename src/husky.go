// Package husky is the capture engine of a wireless monitoring system:
// it owns a set of network capture interfaces, coordinates which radio
// channel each is tuned to, merges their descriptors into the process
// I/O loop, and bridges capture across the privilege boundary between a
// root helper process and the unprivileged server.
package husky
