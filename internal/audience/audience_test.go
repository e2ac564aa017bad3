package audience

import (
	"context"
	"testing"
	"time"

	"placementPortal/internal/database"
	"placementPortal/internal/database/dbtest"
	"placementPortal/internal/roles"
)

func TestViewerSees(t *testing.T) {
	student := Viewer{Roles: roles.NewSet(roles.Student), Year: dbtest.Int(3), Branch: dbtest.Str("CSE")}

	cases := []struct {
		name string
		ann  database.Announcement
		want bool
	}{
		{"untargeted", database.Announcement{}, true},
		{"other year", database.Announcement{TargetYear: dbtest.Int(4)}, false},
		{"same year", database.Announcement{TargetYear: dbtest.Int(3)}, true},
		{"other branch", database.Announcement{TargetBranch: dbtest.Str("ECE")}, false},
		{"same branch any case", database.Announcement{TargetYear: dbtest.Int(3), TargetBranch: dbtest.Str("cse")}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := student.Sees(tc.ann); got != tc.want {
				t.Fatalf("expected %v got %v", tc.want, got)
			}
		})
	}

	head := Viewer{Roles: roles.NewSet(roles.PlacementHead)}
	if !head.Sees(database.Announcement{TargetYear: dbtest.Int(4), TargetBranch: dbtest.Str("ECE")}) {
		t.Fatalf("privileged viewer must see every announcement")
	}

	noProfile := Viewer{Roles: roles.NewSet(roles.Student)}
	if noProfile.Sees(database.Announcement{TargetYear: dbtest.Int(1)}) {
		t.Fatalf("viewer without year must not see year-targeted announcement")
	}
}

func TestAnnouncementScopeMatchesSees(t *testing.T) {
	db := dbtest.New(t)
	anns := []database.Announcement{
		{Title: "all", Content: "c", CreatedBy: 1},
		{Title: "y4", Content: "c", TargetYear: dbtest.Int(4), CreatedBy: 1},
		{Title: "y3", Content: "c", TargetYear: dbtest.Int(3), CreatedBy: 1},
		{Title: "y3-ece", Content: "c", TargetYear: dbtest.Int(3), TargetBranch: dbtest.Str("ECE"), CreatedBy: 1},
		{Title: "cse", Content: "c", TargetBranch: dbtest.Str("CSE"), CreatedBy: 1},
	}
	if err := db.Create(&anns).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}

	viewer := Viewer{Roles: roles.NewSet(roles.Student), Year: dbtest.Int(3), Branch: dbtest.Str("CSE")}
	var got []database.Announcement
	if err := db.Scopes(AnnouncementScope(viewer)).Order("id").Find(&got).Error; err != nil {
		t.Fatalf("query: %v", err)
	}
	titles := make([]string, 0, len(got))
	for _, a := range got {
		titles = append(titles, a.Title)
		if !viewer.Sees(a) {
			t.Fatalf("scope returned invisible announcement %q", a.Title)
		}
	}
	if len(titles) != 3 || titles[0] != "all" || titles[1] != "y3" || titles[2] != "cse" {
		t.Fatalf("unexpected titles %v", titles)
	}

	var all int64
	admin := Viewer{Roles: roles.NewSet(roles.Admin)}
	db.Model(&database.Announcement{}).Scopes(AnnouncementScope(admin)).Count(&all)
	if all != int64(len(anns)) {
		t.Fatalf("admin should see all, got %d", all)
	}
}

func TestEligibleFor(t *testing.T) {
	student := Viewer{Roles: roles.NewSet(roles.Student), Year: dbtest.Int(4), Branch: dbtest.Str("ISE")}

	if !student.EligibleFor(database.Placement{}) {
		t.Fatalf("untargeted placement must be eligible")
	}
	if !student.EligibleFor(database.Placement{TargetYear: dbtest.Int(4), TargetBranches: []string{"CSE", "ISE"}}) {
		t.Fatalf("matching placement must be eligible")
	}
	if student.EligibleFor(database.Placement{TargetBranches: []string{"ECE"}}) {
		t.Fatalf("other branch must not be eligible")
	}
	if student.EligibleFor(database.Placement{TargetYear: dbtest.Int(3)}) {
		t.Fatalf("other year must not be eligible")
	}

	filtered := FilterPlacements(student, []database.Placement{
		{CompanyName: "A"},
		{CompanyName: "B", TargetBranches: []string{"ECE"}},
	})
	if len(filtered) != 1 || filtered[0].CompanyName != "A" {
		t.Fatalf("unexpected filtered %v", filtered)
	}
}

func TestCanApply(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	if !CanApply(database.Placement{}, now) {
		t.Fatalf("no deadline means open")
	}
	if CanApply(database.Placement{Deadline: &past}, now) {
		t.Fatalf("past deadline must be closed")
	}
	if !CanApply(database.Placement{Deadline: &future}, now) {
		t.Fatalf("future deadline must be open")
	}
}

func TestRecipients(t *testing.T) {
	db := dbtest.New(t)
	author := dbtest.Seed(t, db, dbtest.Student{Email: "head@vvce.ac.in", Roles: []string{"placement_head"}})
	a := dbtest.Seed(t, db, dbtest.Student{Email: "a@vvce.ac.in", Year: dbtest.Int(4), Branch: dbtest.Str("CSE")})
	dbtest.Seed(t, db, dbtest.Student{Email: "b@vvce.ac.in", Year: dbtest.Int(3), Branch: dbtest.Str("CSE")})
	c := dbtest.Seed(t, db, dbtest.Student{Email: "c@vvce.ac.in", Year: dbtest.Int(4), Branch: dbtest.Str("ISE")})
	dbtest.Seed(t, db, dbtest.Student{Email: "d@vvce.ac.in", Year: dbtest.Int(4), Branch: dbtest.Str("ECE")})

	got, err := Recipients(context.Background(), db, Target{Year: dbtest.Int(4), Branches: []string{"CSE", "ISE"}, ExcludeUserID: author.ID})
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(got) != 2 || got[0].UserID != a.ID || got[1].UserID != c.ID {
		t.Fatalf("unexpected recipients %+v", got)
	}

	everyone, err := Recipients(context.Background(), db, Target{ExcludeUserID: author.ID})
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(everyone) != 4 {
		t.Fatalf("expected 4 recipients got %d", len(everyone))
	}

	mixed := dbtest.Seed(t, db, dbtest.Student{Email: "e@vvce.ac.in", Year: dbtest.Int(4), Branch: dbtest.Str(" cse ")})
	got, err = Recipients(context.Background(), db, Target{Year: dbtest.Int(4), Branches: []string{"Cse"}, ExcludeUserID: author.ID})
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(got) != 2 || got[0].UserID != a.ID || got[1].UserID != mixed.ID {
		t.Fatalf("branch match must ignore case and spaces, got %+v", got)
	}
}
