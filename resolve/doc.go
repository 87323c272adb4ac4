// Package resolve turns the IR's inheritance and prerequisite graph into
// concrete, conflict-free method sets and a dependency-correct emission order.
//
// Parent methods are never copied into a class: generated types inherit them
// by embedding the parent's generated type. Interface methods are flattened
// through the prerequisite DAG depth-first with a visited set, so a
// prerequisite reachable along several paths contributes its methods once.
// When a contributed name is already taken, the method is renamed with its
// origin interface as qualifier and the rename is recorded.
package resolve
