package fetchers

import (
	"context"
	"fmt"

	"github.com/tidwall/gjson"

	"github.com/krisalay/query-cache/key"
)

// Pokemon is one row of the pokemon listing.
type Pokemon struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type Post struct {
	ID     int64  `json:"id"`
	UserID int64  `json:"userId"`
	Title  string `json:"title"`
	Body   string `json:"body"`
}

// Pokemon fetches GET {pokemon}/pokemon and returns its "results".
func (u *Upstream) Pokemon(ctx context.Context, _ key.Key) (any, error) {
	body, err := u.get(ctx, u.pokemonAPI+"/pokemon")
	if err != nil {
		return nil, err
	}

	results := gjson.GetBytes(body, "results")
	if !results.IsArray() {
		return nil, fmt.Errorf("pokemon listing has no results")
	}
	var out []Pokemon
	results.ForEach(func(_, v gjson.Result) bool {
		out = append(out, Pokemon{Name: v.Get("name").String(), URL: v.Get("url").String()})
		return true
	})
	return out, nil
}

// Posts fetches GET {posts}/posts.
func (u *Upstream) Posts(ctx context.Context, _ key.Key) (any, error) {
	body, err := u.get(ctx, u.postsAPI+"/posts")
	if err != nil {
		return nil, err
	}

	list := gjson.ParseBytes(body)
	if !list.IsArray() {
		return nil, fmt.Errorf("posts listing is not an array")
	}
	var out []Post
	list.ForEach(func(_, v gjson.Result) bool {
		out = append(out, parsePost(v))
		return true
	})
	return out, nil
}

// Post fetches GET {posts}/posts/{id}; the id is part 1 of ["post", id].
func (u *Upstream) Post(ctx context.Context, k key.Key) (any, error) {
	id := k.Part(1)
	if id.Type != gjson.Number {
		return nil, fmt.Errorf("key %s has no numeric post id", k)
	}
	body, err := u.get(ctx, fmt.Sprintf("%s/posts/%d", u.postsAPI, id.Int()))
	if err != nil {
		return nil, err
	}
	return parsePost(gjson.ParseBytes(body)), nil
}

func parsePost(v gjson.Result) Post {
	return Post{
		ID:     v.Get("id").Int(),
		UserID: v.Get("userId").Int(),
		Title:  v.Get("title").String(),
		Body:   v.Get("body").String(),
	}
}

// PostFromList picks post id out of a cached posts list. It seeds ["post", id].
func PostFromList(id int64) func(data any) (any, bool) {
	return func(data any) (any, bool) {
		posts, ok := data.([]Post)
		if !ok {
			return nil, false
		}
		for _, p := range posts {
			if p.ID == id {
				return p, true
			}
		}
		return nil, false
	}
}
