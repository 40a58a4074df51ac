/*
Package modspace implements isolated module namespaces.

A Namespace is built once at startup from an ordered list of module
locations. Every HCL manifest found at those locations exports compiled
registry types under fully-qualified names and may declare roles and
pipelines. Names a namespace does not define itself are resolved through its
parent, normally the host namespace holding the shared types, so bundle code
can still exchange values with the host.

Symbols are bound to the namespace that produced them. Two namespaces built
from the same manifests never hand out the same Symbol, which is what lets
the invocation layer refuse to mix instances across namespaces. After
Release, every symbol of the namespace is invalid.
*/
package modspace
