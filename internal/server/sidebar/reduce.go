// Package sidebar maintains each user's conversation list ordered by last
// activity, newest first. Reduce is the pure state transition; Synchronizer
// applies actions for all users from a single goroutine.
package sidebar

import (
	"sort"
	"time"

	"github.com/dmitrijs2005/llmgate/internal/server/models"
)

// Action is one change to a conversation list.
type Action interface {
	apply(list []models.SidebarConversation) []models.SidebarConversation
}

type Created struct {
	Conversation models.SidebarConversation
}

type TitleChanged struct {
	ID    string
	Title string
}

type TagsChanged struct {
	ID   string
	Tags []models.Tag
}

// MessageArrived moves a conversation to its new activity time. Snippet,
// when set, replaces the list snippet.
type MessageArrived struct {
	ID      string
	At      time.Time
	Snippet string
}

type Archived struct {
	ID string
}

type Deleted struct {
	ID string
}

// Reduce returns the list after a. The input is never modified; entries
// stay sorted by LastActivityAt descending, ties broken by id.
func Reduce(list []models.SidebarConversation, a Action) []models.SidebarConversation {
	return a.apply(list)
}

// before reports whether a sorts ahead of b.
func before(a, b models.SidebarConversation) bool {
	if !a.LastActivityAt.Equal(b.LastActivityAt) {
		return a.LastActivityAt.After(b.LastActivityAt)
	}
	return a.ID < b.ID
}

// Sorted reports whether list satisfies the ordering invariant.
func Sorted(list []models.SidebarConversation) bool {
	return sort.SliceIsSorted(list, func(i, j int) bool { return before(list[i], list[j]) })
}

func indexOf(list []models.SidebarConversation, id string) int {
	for i := range list {
		if list[i].ID == id {
			return i
		}
	}
	return -1
}

func without(list []models.SidebarConversation, i int) []models.SidebarConversation {
	out := make([]models.SidebarConversation, 0, len(list))
	out = append(out, list[:i]...)
	return append(out, list[i+1:]...)
}

// insert places c at its sorted position in a fresh slice.
func insert(list []models.SidebarConversation, c models.SidebarConversation) []models.SidebarConversation {
	pos := sort.Search(len(list), func(i int) bool { return !before(list[i], c) })
	out := make([]models.SidebarConversation, 0, len(list)+1)
	out = append(out, list[:pos]...)
	out = append(out, c)
	return append(out, list[pos:]...)
}

// update copies list and applies fn to the entry with id. Unknown ids leave
// the list as it is.
func update(list []models.SidebarConversation, id string, fn func(*models.SidebarConversation)) []models.SidebarConversation {
	i := indexOf(list, id)
	if i < 0 {
		return list
	}
	out := append([]models.SidebarConversation(nil), list...)
	fn(&out[i])
	return out
}

func dedupeTags(tags []models.Tag) []models.Tag {
	seen := make(map[string]struct{}, len(tags))
	out := make([]models.Tag, 0, len(tags))
	for _, t := range tags {
		if _, ok := seen[t.ID]; ok {
			continue
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	}
	return out
}

func (a Created) apply(list []models.SidebarConversation) []models.SidebarConversation {
	c := a.Conversation
	c.Tags = dedupeTags(c.Tags)
	if i := indexOf(list, c.ID); i >= 0 {
		list = without(list, i)
	}
	return insert(list, c)
}

func (a TitleChanged) apply(list []models.SidebarConversation) []models.SidebarConversation {
	return update(list, a.ID, func(c *models.SidebarConversation) { c.Title = a.Title })
}

func (a TagsChanged) apply(list []models.SidebarConversation) []models.SidebarConversation {
	tags := dedupeTags(a.Tags)
	return update(list, a.ID, func(c *models.SidebarConversation) { c.Tags = tags })
}

func (a Archived) apply(list []models.SidebarConversation) []models.SidebarConversation {
	return update(list, a.ID, func(c *models.SidebarConversation) { c.Active = false })
}

func (a Deleted) apply(list []models.SidebarConversation) []models.SidebarConversation {
	i := indexOf(list, a.ID)
	if i < 0 {
		return list
	}
	return without(list, i)
}

// apply ignores timestamps older than the current one so late events never
// move an entry backwards.
func (a MessageArrived) apply(list []models.SidebarConversation) []models.SidebarConversation {
	i := indexOf(list, a.ID)
	if i < 0 || a.At.Before(list[i].LastActivityAt) {
		return list
	}
	c := list[i]
	c.LastActivityAt = a.At
	if a.Snippet != "" {
		c.Snippet = a.Snippet
	}
	return insert(without(list, i), c)
}
