// Package shield answers block and mute questions for the local user.
//
// A group on either list shields every sender in it; otherwise the decision
// falls to the sender's own entry. Mutations pass through to the archive's
// roster lists.
package shield
