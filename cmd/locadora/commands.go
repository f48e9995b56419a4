package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ucasvieira/locadora/internal/app"
	"github.com/ucasvieira/locadora/internal/errs"
	"github.com/ucasvieira/locadora/internal/model"
	"github.com/ucasvieira/locadora/internal/notify"
	"github.com/ucasvieira/locadora/internal/service"
)

var errUsage = errors.New("usage")

// stdin feeds password prompts; swapped in tests.
var stdin io.Reader = os.Stdin

// stringList collects a repeatable string flag.
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ", ") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

// run dispatches one subcommand against the context a.
func run(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "movies":
		return runMovies(ctx, a, rest, out)
	case "categories":
		for _, c := range a.Catalog.Categories(ctx) {
			fmt.Fprintln(out, c)
		}
		return nil
	case "login":
		return cmdLogin(ctx, a, rest, out)
	case "logout":
		if err := a.Auth.Logout(ctx); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil
	case "whoami":
		sess, err := a.Auth.CurrentSession(ctx)
		if err != nil {
			return err
		}
		if sess == nil {
			return fmt.Errorf("%w: not logged in", errs.ErrUnauthorized)
		}
		fmt.Fprintf(out, "%s (%s)\n", sess.Username, sess.Role)
		return nil
	case "register":
		return cmdRegister(ctx, a, rest, out)
	case "users":
		return runUsers(ctx, a, rest, out)
	case "rentals":
		return runRentals(ctx, a, rest, out)
	case "watch":
		return cmdWatch(ctx, a, rest, out)
	default:
		return errUsage
	}
}

// requireAdmin mirrors the gate the HTTP API puts on catalog mutations.
func requireAdmin(ctx context.Context, a *app.App) error {
	sess, err := a.Auth.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if !sess.IsAdmin() {
		return fmt.Errorf("%w: admin session required", errs.ErrUnauthorized)
	}
	return nil
}

func requireSession(ctx context.Context, a *app.App) error {
	sess, err := a.Auth.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if sess == nil {
		return fmt.Errorf("%w: login required", errs.ErrUnauthorized)
	}
	return nil
}

// ---- movies ----

func runMovies(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "list":
		fs := newFlagSet("movies list", out)
		var where stringList
		search := fs.String("search", "", "title or category substring")
		category := fs.String("category", "", "exact category")
		fs.Var(&where, "where", "condition such as 'year greaterThan 1990', 'and' or 'or' (repeatable)")
		sortBy := fs.String("sort", "", "title, year or rating")
		desc := fs.Bool("desc", false, "descending order")
		page := fs.Int("page", 0, "1-based page; 0 lists all")
		size := fs.Int("size", 0, "page size")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		res, err := a.Catalog.List(ctx, service.ListOptions{
			Search: *search, Category: *category, Where: where,
			SortBy: *sortBy, Desc: *desc, Page: *page, PageSize: *size,
		})
		if err != nil {
			return err
		}
		for _, m := range res.Movies {
			fmt.Fprintf(out, "%-4s %-40s %-12s %4d %4.1f\n", m.ID, m.Title, m.Category, m.Year, m.Rating)
		}
		if *page > 0 {
			fmt.Fprintf(out, "page %d/%d, %d movies\n", res.Page, res.Pages, res.Total)
		}
		return nil

	case "get":
		fs := newFlagSet("movies get", out)
		id := fs.String("id", "", "movie id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		m, err := a.Catalog.Get(ctx, *id)
		if err != nil {
			return err
		}
		printJSON(out, m)
		return nil

	case "add", "edit":
		if err := requireAdmin(ctx, a); err != nil {
			return err
		}
		fs := newFlagSet("movies "+sub, out)
		id := fs.String("id", "", "movie id (edit only)")
		var m model.Movie
		bindMovieFlags(fs, &m)
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if sub == "add" {
			added, err := a.Catalog.Add(ctx, m)
			if err != nil {
				return err
			}
			printJSON(out, added)
			return nil
		}
		cur, err := a.Catalog.Get(ctx, *id)
		if err != nil {
			return err
		}
		applySetFlags(fs, &cur, m)
		updated, err := a.Catalog.Update(ctx, cur)
		if err != nil {
			return err
		}
		printJSON(out, updated)
		return nil

	case "rm":
		if err := requireAdmin(ctx, a); err != nil {
			return err
		}
		fs := newFlagSet("movies rm", out)
		id := fs.String("id", "", "movie id")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		m, ok, err := a.Catalog.Remove(ctx, *id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: movie %q", errs.ErrNotFound, *id)
		}
		printJSON(out, m)
		return nil

	case "restore":
		if err := requireAdmin(ctx, a); err != nil {
			return err
		}
		fs := newFlagSet("movies restore", out)
		file := fs.String("file", "", "removed record as JSON ('-' = stdin)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *file == "" {
			return errUsage
		}
		b, err := readAll(*file)
		if err != nil {
			return err
		}
		var m model.Movie
		if err := json.Unmarshal(b, &m); err != nil {
			return fmt.Errorf("%w: movie json: %v", errs.ErrValidation, err)
		}
		if err := a.Catalog.Restore(ctx, m); err != nil {
			return err
		}
		fmt.Fprintln(out, "ok")
		return nil
	}
	return errUsage
}

func bindMovieFlags(fs *flag.FlagSet, m *model.Movie) {
	fs.StringVar(&m.Title, "title", "", "title")
	fs.StringVar(&m.Category, "category", "", "category")
	fs.IntVar(&m.Year, "year", 0, "release year")
	fs.Float64Var(&m.Rating, "rating", 0, "rating 0-10")
	fs.StringVar(&m.Description, "description", "", "description")
	fs.StringVar(&m.ImageURL, "image", "", "image URL")
	fs.BoolVar(&m.Available, "available", false, "available for rent")
}

// applySetFlags copies onto dst only the fields given on the command line.
func applySetFlags(fs *flag.FlagSet, dst *model.Movie, src model.Movie) {
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "title":
			dst.Title = src.Title
		case "category":
			dst.Category = src.Category
		case "year":
			dst.Year = src.Year
		case "rating":
			dst.Rating = src.Rating
		case "description":
			dst.Description = src.Description
		case "image":
			dst.ImageURL = src.ImageURL
		case "available":
			dst.Available = src.Available
		}
	})
}

// ---- auth ----

func credentialFlags(name string, args []string, out io.Writer, withRole bool) (user, pass string, role model.Role, err error) {
	fs := newFlagSet(name, out)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	r := fs.String("role", "", "role (admin only)")
	if err = fs.Parse(args); err != nil {
		return
	}
	if *u == "" {
		err = fmt.Errorf("%w: need -u", errs.ErrValidation)
		return
	}
	if *p == "" {
		if *p, err = readPassword("Password: ", stdin); err != nil {
			return
		}
	}
	if withRole {
		role = model.Role(*r)
	}
	return *u, *p, role, nil
}

func cmdLogin(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	user, pass, _, err := credentialFlags("login", args, out, false)
	if err != nil {
		return err
	}
	sess, err := a.Auth.Login(ctx, user, pass)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "logged in as %s (%s)\n", sess.Username, sess.Role)
	return nil
}

func cmdRegister(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	user, pass, role, err := credentialFlags("register", args, out, true)
	if err != nil {
		return err
	}
	u, err := a.Auth.Register(ctx, user, pass, role)
	if err != nil {
		return err
	}
	printJSON(out, u)
	return nil
}

func runUsers(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	fs := newFlagSet("users "+args[0], out)
	user := fs.String("u", "", "username")
	role := fs.String("role", "", "user or admin")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}
	switch args[0] {
	case "list":
		users, err := a.Auth.PublicUsers(ctx)
		if err != nil {
			return err
		}
		for _, u := range users {
			fmt.Fprintf(out, "%-20s %-6s %s\n", u.Username, u.Role, u.Source)
		}
		return nil
	case "rm":
		return a.Auth.DeleteUser(ctx, *user)
	case "role":
		return a.Auth.UpdateRole(ctx, *user, model.Role(*role))
	}
	return errUsage
}

// ---- rentals ----

func runRentals(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	if err := requireSession(ctx, a); err != nil {
		return err
	}
	fs := newFlagSet("rentals "+args[0], out)
	id := fs.String("id", "", "rental id")
	customer := fs.String("customer", "", "customer name")
	movie := fs.String("movie", "", "movie title")
	date := fs.String("date", "", "rent date YYYY-MM-DD (default today)")
	ret := fs.String("return", "", "return date YYYY-MM-DD")
	status := fs.String("status", "", "Active, Returned or Late")
	if err := fs.Parse(args[1:]); err != nil {
		return err
	}

	switch args[0] {
	case "list":
		rentals, err := a.Rentals.List(ctx)
		if err != nil {
			return err
		}
		for _, r := range rentals {
			fmt.Fprintf(out, "%-14s %-20s %-30s %s %-10s %s\n",
				r.ID, r.CustomerName, r.MovieTitle, r.RentDate, r.ReturnDate, r.Status)
		}
		return nil
	case "add":
		r, err := a.Rentals.Create(ctx, model.Rental{
			CustomerName: *customer,
			MovieTitle:   *movie,
			RentDate:     *date,
			ReturnDate:   *ret,
			Status:       model.RentalStatus(*status),
		})
		if err != nil {
			return err
		}
		printJSON(out, r)
		return nil
	case "edit":
		var patch model.RentalPatch
		fs.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "customer":
				patch.CustomerName = customer
			case "movie":
				patch.MovieTitle = movie
			case "date":
				patch.RentDate = date
			case "return":
				patch.ReturnDate = ret
			case "status":
				s := model.RentalStatus(*status)
				patch.Status = &s
			}
		})
		r, err := a.Rentals.Update(ctx, *id, patch)
		if err != nil {
			return err
		}
		printJSON(out, r)
		return nil
	case "rm":
		ok, err := a.Rentals.Delete(ctx, *id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: rental %q", errs.ErrNotFound, *id)
		}
		fmt.Fprintln(out, "ok")
		return nil
	}
	return errUsage
}

// ---- watch ----

// cmdWatch prints one JSON line per change until ctx is done.
func cmdWatch(ctx context.Context, a *app.App, args []string, out io.Writer) error {
	fs := newFlagSet("watch", out)
	topic := fs.String("topic", string(notify.TopicAll), "topic to follow")
	if err := fs.Parse(args); err != nil {
		return err
	}

	events := make(chan notify.Event, 16)
	cancel := a.Bus.Subscribe(notify.Topic(*topic), func(ev notify.Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	})
	defer cancel()

	enc := json.NewEncoder(out)
	for {
		select {
		case ev := <-events:
			if err := enc.Encode(ev); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}
