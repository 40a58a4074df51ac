// Package model holds the types shared between the host and every model
// bundle. They are registered as Shared so that an isolated namespace can
// resolve them through its parent, which keeps entity and decision values
// interchangeable across the namespace boundary.
package model
