package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/mmcdole/gofeed"

	"github.com/ppiankov/boorufind/internal/errs"
)

func serverConfig(ts *httptest.Server) Config {
	cfg := testConfig(ts.URL, nil)
	cfg.HTTPClient = nil
	return cfg
}

func danbooruJSON(id int64, md5 string, parent string) string {
	return fmt.Sprintf(`{"id":%d,"tag_string":"1girl solo","tag_string_artist":"artist_a","source":"https://src.test/%d",
"file_url":"https://cdn.donmai.test/original/%s.png","preview_file_url":"https://cdn.donmai.test/preview/%s.jpg",
"md5":"%s","rating":"s","parent_id":%s,"image_width":800,"image_height":600,"uploader_id":5}`,
		id, id, md5, md5, md5, parent)
}

func TestDanbooru_SearchPostsPaginates(t *testing.T) {
	var pages []string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/posts.json" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.URL.Query().Get("tags"); got != "1girl solo" {
			t.Errorf("tags = %q", got)
		}
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		switch page {
		case "1":
			// second entry lacks md5 and is dropped; raw count still fills the page.
			_, _ = w.Write([]byte("[" + danbooruJSON(1, "aaa", "null") + `,{"id":2,"file_url":""}]`))
		case "2":
			_, _ = w.Write([]byte("[" + danbooruJSON(3, "ccc", "1") + "]"))
		default:
			_, _ = w.Write([]byte("[]"))
		}
	}))
	defer ts.Close()

	d := NewDanbooru(serverConfig(ts))
	posts, err := d.SearchPosts(context.Background(), []string{"1girl", "solo"}, ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(posts) != 2 {
		t.Fatalf("got %d posts, want 2", len(posts))
	}
	if strings.Join(pages, ",") != "1,2" {
		t.Errorf("pages = %v", pages)
	}

	p := posts[0]
	if p.Source != "danbooru" || p.ID != 1 {
		t.Errorf("post = %s", p.Key())
	}
	if p.Rating != RatingSensitive {
		t.Errorf("rating = %v, want sensitive", p.Rating)
	}
	if p.Filenames[0] != "aaa.png" || p.Name != "Post #1" {
		t.Errorf("filenames = %v name = %q", p.Filenames, p.Name)
	}
	if len(p.Authors) != 1 || p.Authors[0] != "artist_a" {
		t.Errorf("authors = %v", p.Authors)
	}
	if p.Dimensions[0] != (Dimension{Width: 800, Height: 600}) {
		t.Errorf("dimensions = %v", p.Dimensions)
	}
	if posts[1].ParentID != 1 {
		t.Errorf("parent id = %d", posts[1].ParentID)
	}
	if p.Owner() != d {
		t.Error("post should be bound to its adapter")
	}
}

func TestDanbooru_GetPostNotFound(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	_, err := NewDanbooru(serverConfig(ts)).GetPost(context.Background(), 404)
	if !errors.Is(err, errs.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestDanbooru_ParentAndChildren(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/posts/1.json":
			_, _ = w.Write([]byte(danbooruJSON(1, "aaa", "null")))
		case r.URL.Path == "/posts.json" && r.URL.Query().Get("tags") == "parent:1":
			_, _ = w.Write([]byte("[" + danbooruJSON(1, "aaa", "null") + "," + danbooruJSON(3, "ccc", "1") + "]"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	d := NewDanbooru(serverConfig(ts))
	parent, err := d.GetPost(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	children, err := parent.Children(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(children) != 1 || children[0].ID != 3 {
		t.Fatalf("children = %v", children)
	}
	back, err := children[0].Parent(context.Background())
	if err != nil || back == nil || back.ID != 1 {
		t.Errorf("parent = %v, %v", back, err)
	}
}

func TestDanbooru_CommentsAndNotes(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/comments.json":
			if r.URL.Query().Get("search[post_id]") != "9" {
				t.Errorf("post filter = %q", r.URL.RawQuery)
			}
			_, _ = w.Write([]byte(`[
{"id":1,"post_id":9,"creator_id":4,"body":"nice","created_at":"2024-03-01T10:00:00.000-05:00","is_deleted":false},
{"id":2,"post_id":9,"creator_id":4,"body":"gone","created_at":"2024-03-01T10:00:00.000-05:00","is_deleted":true}]`))
		case "/comments/1.json":
			_, _ = w.Write([]byte(`{"id":1,"post_id":9,"creator_id":4,"body":"nice","created_at":"2024-03-01T10:00:00.000-05:00"}`))
		case "/notes.json":
			_, _ = w.Write([]byte(`[{"id":7,"post_id":9,"x":10,"y":20,"width":30,"height":40,"body":"<b>hi</b>","created_at":"2024-03-01T15:00:00.000Z","is_active":true}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer ts.Close()

	d := NewDanbooru(serverConfig(ts))
	comments, err := d.SearchComments(context.Background(), CommentQuery{PostID: 9})
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 || comments[0].Body != "nice" {
		t.Fatalf("comments = %+v", comments)
	}
	if comments[0].CreatedAt != 1709305200 {
		t.Errorf("created_at = %d", comments[0].CreatedAt)
	}

	c, err := d.GetComment(context.Background(), 1, 0)
	if err != nil || c.ID != 1 || c.Source != "danbooru" {
		t.Errorf("comment = %+v, %v", c, err)
	}
	if _, err := d.GetComment(context.Background(), 2, 0); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("missing comment err = %v", err)
	}

	notes, err := d.GetNotes(context.Background(), 9)
	if err != nil {
		t.Fatal(err)
	}
	if len(notes) != 1 || notes[0].Body != "<b>hi</b>" || notes[0].Width != 30 {
		t.Errorf("notes = %+v", notes)
	}
}

func TestMoebooru_GetPostUsesIDSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/post.json" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.URL.Query().Get("tags") == "id:77" {
			_, _ = w.Write([]byte(`[{"id":77,"tags":"landscape sky","source":"","file_url":"https://files.yande.test/image/x/yande.re%2077%20sky.jpg",
"preview_url":"https://files.yande.test/p.jpg","md5":"x","rating":"s","parent_id":null,"width":10,"height":20,"author":"bob","creator_id":3}]`))
			return
		}
		_, _ = w.Write([]byte("[]"))
	}))
	defer ts.Close()

	m := NewYandere(serverConfig(ts))
	if m.Name() != "yande.re" {
		t.Errorf("name = %q", m.Name())
	}
	if m.TransportPolicy().Referer != ts.URL+"/" {
		t.Errorf("referer = %q", m.TransportPolicy().Referer)
	}

	p, err := m.GetPost(context.Background(), 77)
	if err != nil {
		t.Fatal(err)
	}
	if p.Rating != RatingGeneral || p.Poster != "bob" {
		t.Errorf("post = %+v", p)
	}
	if p.Filenames[0] != "yande.re 77 sky.jpg" {
		t.Errorf("filename = %q", p.Filenames[0])
	}

	if _, err := m.GetPost(context.Background(), 78); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
}

func TestGelbooru_WrappedAndEmptyResponses(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("page") != "dapi" || q.Get("s") != "post" || q.Get("json") != "1" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		if q.Get("api_key") != "key" || q.Get("user_id") != "42" {
			t.Errorf("credentials missing: %q", r.URL.RawQuery)
		}
		if q.Get("id") == "5" {
			_, _ = w.Write([]byte(`{"@attributes":{"limit":100,"offset":0,"count":0}}`))
			return
		}
		if q.Get("pid") != "0" {
			t.Errorf("pid = %q, want 0", q.Get("pid"))
		}
		_, _ = w.Write([]byte(`{"@attributes":{"count":1},"post":[{"id":4,"tags":"a b","source":"","file_url":"https://img.gel.test/images/ab/cd/f.mp4",
"preview_url":"","md5":"f","rating":"questionable","parent_id":0,"width":1,"height":1,"owner":"o","creator_id":8}]}`))
	}))
	defer ts.Close()

	cfg := serverConfig(ts)
	cfg.APIKey, cfg.User = "key", "42"
	g := NewGelbooru(cfg)

	posts, err := g.SearchPosts(context.Background(), []string{"a"}, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].Rating != RatingQuestionable || !posts[0].IsVideo() {
		t.Fatalf("posts = %+v", posts)
	}
	if posts[0].ParentID != 0 {
		t.Errorf("parent id = %d", posts[0].ParentID)
	}

	if _, err := g.GetPost(context.Background(), 5); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("err = %v", err)
	}
	if _, err := g.GetComment(context.Background(), 1, 1); !errors.Is(err, errs.ErrUnsupported) {
		t.Errorf("err = %v", err)
	}
}

func TestRule34_BareArrayAndXMLComments(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("s") {
		case "post":
			if r.URL.Query().Get("tags") == "none" {
				return // rule34 answers an empty body when nothing matches
			}
			_, _ = w.Write([]byte(`[{"id":9,"tags":"x","file_url":"https://r34.test/images/1/h.png","hash":"h","rating":"explicit","parent_id":3,"width":2,"height":2,"owner":"u"}]`))
		case "comment":
			_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?><comments type="array">` +
				`<comment created_at="2024-01-02 10:30" post_id="9" body="first" creator="ann" id="100" creator_id="2"/>` +
				`<comment created_at="2024-01-02 11:00" post_id="9" body="second" creator="ben" id="101" creator_id="3"/></comments>`))
		case "note":
			_, _ = w.Write([]byte(`<notes><note id="1" post_id="9" x="5" y="6" width="7" height="8" body="n" created_at="Tue Jan 02 10:30:00 +0000 2024"/></notes>`))
		}
	}))
	defer ts.Close()

	g := NewRule34(serverConfig(ts))

	posts, err := g.SearchPosts(context.Background(), []string{"x"}, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(posts) != 1 || posts[0].MD5[0] != "h" || posts[0].ParentID != 3 || posts[0].Rating != RatingExplicit {
		t.Fatalf("posts = %+v", posts)
	}

	empty, err := g.SearchPosts(context.Background(), []string{"none"}, ListOptions{})
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty = %v, %v", empty, err)
	}

	comments, err := g.SearchComments(context.Background(), CommentQuery{PostID: 9, Limit: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 || comments[0].Creator != "ann" || comments[0].ID != 100 {
		t.Fatalf("comments = %+v", comments)
	}
	if comments[0].CreatedAt != 1704191400 {
		t.Errorf("created_at = %d", comments[0].CreatedAt)
	}

	notes, err := g.GetNotes(context.Background(), 9)
	if err != nil || len(notes) != 1 || notes[0].Height != 8 || notes[0].CreatedAt != 1704191400 {
		t.Errorf("notes = %+v, %v", notes, err)
	}
}

func TestCollectPages_OffsetInLimitUnits(t *testing.T) {
	// A source serving full pages of perPage entries, ids counting from 1.
	pager := func(perPage, base int, requested *[]int) pageFunc {
		return func(_ context.Context, page int) ([]*Post, int, error) {
			*requested = append(*requested, page)
			start := (page - base) * perPage
			posts := make([]*Post, perPage)
			for i := range posts {
				posts[i] = &Post{ID: int64(start + i + 1)}
			}
			return posts, len(posts), nil
		}
	}

	tests := []struct {
		name        string
		limit, page int
		base        int
		wantFirst   int64
		wantPages   string
	}{
		{"second page of 150", 150, 2, 1, 151, "2,3"},
		{"second page of 150 zero-based", 150, 2, 0, 151, "1,2"},
		{"third page of 40", 40, 3, 1, 81, "3"},
		{"first page of 250", 250, 1, 1, 1, "1,2,3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var requested []int
			perPage := min(tt.limit, 100)
			posts, err := collectPages(context.Background(), tt.limit, perPage, tt.page, tt.base, pager(perPage, tt.base, &requested))
			if err != nil {
				t.Fatal(err)
			}
			if len(posts) != tt.limit {
				t.Fatalf("posts = %d, want %d", len(posts), tt.limit)
			}
			if posts[0].ID != tt.wantFirst {
				t.Errorf("first id = %d, want %d", posts[0].ID, tt.wantFirst)
			}
			got := make([]string, len(requested))
			for i, p := range requested {
				got[i] = strconv.Itoa(p)
			}
			if strings.Join(got, ",") != tt.wantPages {
				t.Errorf("pages = %v, want %s", got, tt.wantPages)
			}
		})
	}
}

func TestParseCommentPage(t *testing.T) {
	page := `<html><body>
<div class="commentBody "><a href="index.php?page=account&amp;s=profile&amp;id=321"><b>alice</b></a> commented at 2024-01-02 10:30:00 » #555<br/>Lovely colors.</div>
<div class="commentBody "><a href="index.php?page=account&amp;s=profile&amp;id=322">bob</a> no header here</div>
</body></html>`

	comments, err := parseCommentPage([]byte(page), 12, "gelbooru")
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 1 {
		t.Fatalf("got %d comments, want 1", len(comments))
	}
	c := comments[0]
	if c.ID != 555 || c.CreatorID != 321 || c.Creator != "alice" || c.PostID != 12 {
		t.Errorf("comment = %+v", c)
	}
	if c.Body != "Lovely colors." {
		t.Errorf("body = %q", c.Body)
	}
	if c.CreatedAt != 1704191400 {
		t.Errorf("created_at = %d", c.CreatedAt)
	}
}

func TestGelbooru_RecentCommentsUnsupported(t *testing.T) {
	g := NewGelbooru(Config{BaseURL: "https://gel.test"})
	if _, err := g.SearchComments(context.Background(), CommentQuery{}); !errors.Is(err, errs.ErrUnsupported) {
		t.Errorf("err = %v", err)
	}
}

const mediaFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
<title>booru feed</title>
<item>
  <title>sunset</title>
  <link>https://booru.test/posts/1234</link>
  <guid>https://booru.test/posts/1234</guid>
  <category>sky sunset</category>
  <media:content url="https://cdn.booru.test/1234.jpg" type="image/jpeg"/>
  <media:thumbnail url="https://cdn.booru.test/thumb/1234.jpg"/>
  <media:rating>explicit</media:rating>
</item>
<item>
  <title>text only</title>
  <link>https://booru.test/posts/1235</link>
</item>
</channel>
</rss>`

func TestFeed_SearchPosts(t *testing.T) {
	var gotQuery string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(mediaFeed))
	}))
	defer ts.Close()

	cfg := serverConfig(ts)
	cfg.BaseURL = ts.URL + "/posts.rss?tags={tags}&page={page}"
	cfg.Name = "mybooru"
	f, err := NewFeed(cfg)
	if err != nil {
		t.Fatal(err)
	}

	posts, err := f.SearchPosts(context.Background(), []string{"sky", "sunset"}, ListOptions{Page: 2})
	if err != nil {
		t.Fatal(err)
	}
	if gotQuery != "tags=sky+sunset&page=2" {
		t.Errorf("query = %q", gotQuery)
	}
	if len(posts) != 1 {
		t.Fatalf("got %d posts, want 1 (item without media skipped)", len(posts))
	}
	p := posts[0]
	if p.ID != 1234 || p.Source != "mybooru" || p.Name != "sunset" {
		t.Errorf("post = %+v", p)
	}
	if p.Preview != "https://cdn.booru.test/thumb/1234.jpg" || p.Rating != RatingExplicit {
		t.Errorf("preview = %q rating = %v", p.Preview, p.Rating)
	}
	if strings.Join(p.Tags, ",") != "sky,sunset" {
		t.Errorf("tags = %v", p.Tags)
	}

	if _, err := f.GetPost(context.Background(), 1234); !errors.Is(err, errs.ErrUnsupported) {
		t.Errorf("get post err = %v", err)
	}
	notes, err := f.GetNotes(context.Background(), 1234)
	if err != nil || len(notes) != 0 {
		t.Errorf("notes = %v, %v", notes, err)
	}
}

func TestNewFeed_RequiresTemplate(t *testing.T) {
	if _, err := NewFeed(Config{}); !errors.Is(err, errs.ErrConfiguration) {
		t.Errorf("err = %v", err)
	}
}

func TestItemPostID_HashFallback(t *testing.T) {
	a := itemPostIDFor("urn:uuid:abc-def")
	b := itemPostIDFor("urn:uuid:abc-def")
	if a != b || a <= 0 {
		t.Errorf("ids = %d, %d", a, b)
	}
	if got := itemPostIDFor("https://booru.test/posts/" + strconv.Itoa(88)); got != 88 {
		t.Errorf("id = %d", got)
	}
}

func itemPostIDFor(guid string) int64 {
	return itemPostID(&gofeed.Item{GUID: guid})
}
