package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-contrib-collector/internal/domain"
	"github.com/kurihiro0119/github-contrib-collector/pkg/client"
)

var (
	repoFilter        domain.RepositoryFilter
	contributorFilter domain.ContributorFilter
	repoOrder         string
	contributorOrder  string
	minRepos          int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show collected data from the dashboard API",
	Long:  `Query a running dashboard API (API_ENDPOINT) for the latest collected dataset.`,
}

var showStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show dataset statistics",
	Args:  cobra.NoArgs,
	RunE:  runShowStats,
}

var showReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "List collected repositories",
	Args:  cobra.NoArgs,
	RunE:  runShowRepos,
}

var showContributorsCmd = &cobra.Command{
	Use:   "contributors",
	Short: "List collected contributors",
	Args:  cobra.NoArgs,
	RunE:  runShowContributors,
}

var showMultiRepoCmd = &cobra.Command{
	Use:   "multi-repo",
	Short: "List users contributing to several collected repositories",
	Args:  cobra.NoArgs,
	RunE:  runShowMultiRepo,
}

func init() {
	f := showReposCmd.Flags()
	f.StringVar(&repoFilter.Keyword, "keyword", "", "substring of name, description or matched keyword")
	f.StringVar(&repoFilter.Language, "language", "", "primary language")
	f.IntVar(&repoFilter.MinStars, "min-stars", 0, "minimum stars")
	f.StringVar(&repoFilter.Sort, "sort", "stars", "sort field (stars, forks, name, created_at, updated_at)")
	f.StringVar(&repoOrder, "order", "desc", "sort order (asc, desc)")
	f.IntVar(&repoFilter.Page, "page", 1, "page number")
	f.IntVar(&repoFilter.Limit, "limit", 20, "rows per page")

	f = showContributorsCmd.Flags()
	f.StringVar(&contributorFilter.Username, "username", "", "substring of username")
	f.StringVar(&contributorFilter.Repository, "repository", "", "substring of repository full name")
	f.IntVar(&contributorFilter.MinContributions, "min-contributions", 0, "minimum contributions")
	f.IntVar(&contributorFilter.MinFollowers, "min-followers", 0, "minimum followers")
	f.StringVar(&contributorFilter.Sort, "sort", "contributions", "sort field (contributions, followers, username)")
	f.StringVar(&contributorOrder, "order", "desc", "sort order (asc, desc)")
	f.IntVar(&contributorFilter.Page, "page", 1, "page number")
	f.IntVar(&contributorFilter.Limit, "limit", 20, "rows per page")

	showMultiRepoCmd.Flags().IntVar(&minRepos, "min-repos", 2, "minimum number of repositories")

	showCmd.AddCommand(showStatsCmd)
	showCmd.AddCommand(showReposCmd)
	showCmd.AddCommand(showContributorsCmd)
	showCmd.AddCommand(showMultiRepoCmd)
}

func newAPIClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return client.NewClient(cfg.APIEndpoint), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runShowStats(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}

	stats, err := api.GetExtendedStats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get stats: %w", err)
	}

	if outputJSON {
		return printJSON(stats)
	}

	fmt.Printf("\nDataset: %s\n\n", stats.RunTimestamp)

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Total Repositories", fmt.Sprintf("%d", stats.TotalRepositories)})
	table.Append([]string{"Total Contributors", fmt.Sprintf("%d", stats.TotalContributors)})
	table.Append([]string{"Top Languages", joinCounts(stats.TopLanguages)})
	table.Append([]string{"Top Topics", joinCounts(stats.TopTopics)})
	table.Append([]string{"Top Companies", joinCounts(stats.TopCompanies)})
	table.Render()

	fmt.Println()
	sizes := tablewriter.NewWriter(os.Stdout)
	sizes.SetHeader([]string{"Size", "Repositories"})
	for _, s := range stats.SizeDistribution {
		sizes.Append([]string{s.Category, fmt.Sprintf("%d", s.Count)})
	}
	sizes.Render()

	return nil
}

func joinCounts(counts []domain.NameCount) string {
	parts := make([]string, 0, len(counts))
	for _, c := range counts {
		parts = append(parts, fmt.Sprintf("%s (%d)", c.Name, c.Count))
	}
	return strings.Join(parts, ", ")
}

func runShowRepos(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}

	repoFilter.Order = domain.SortOrder(repoOrder)
	list, err := api.GetRepositories(context.Background(), repoFilter)
	if err != nil {
		return fmt.Errorf("failed to get repositories: %w", err)
	}

	if outputJSON {
		return printJSON(list)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repository", "Language", "Stars", "Forks", "Keyword"})
	for _, r := range list.Data {
		table.Append([]string{
			r.FullName,
			r.Language,
			fmt.Sprintf("%d", r.StargazersCount),
			fmt.Sprintf("%d", r.ForksCount),
			r.MatchedKeyword,
		})
	}
	table.Render()
	printPagination(list.Pagination)

	return nil
}

func runShowContributors(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}

	contributorFilter.Order = domain.SortOrder(contributorOrder)
	list, err := api.GetContributors(context.Background(), contributorFilter)
	if err != nil {
		return fmt.Errorf("failed to get contributors: %w", err)
	}

	if outputJSON {
		return printJSON(list)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Username", "Repository", "Contributions", "Followers", "Location"})
	for _, c := range list.Data {
		table.Append([]string{
			c.Username,
			c.Repository,
			fmt.Sprintf("%d", c.Contributions),
			fmt.Sprintf("%d", c.Followers),
			c.Location,
		})
	}
	table.Render()
	printPagination(list.Pagination)

	return nil
}

func runShowMultiRepo(cmd *cobra.Command, args []string) error {
	api, err := newAPIClient()
	if err != nil {
		return err
	}

	contributors, err := api.GetMultiRepoContributors(context.Background(), minRepos)
	if err != nil {
		return fmt.Errorf("failed to get contributors: %w", err)
	}

	if outputJSON {
		return printJSON(contributors)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Username", "Repositories", "Contributions", "Followers"})
	for _, c := range contributors {
		table.Append([]string{
			c.Username,
			fmt.Sprintf("%d", c.RepositoryCount),
			fmt.Sprintf("%d", c.TotalContributions),
			fmt.Sprintf("%d", c.Followers),
		})
	}
	table.Render()

	return nil
}

func printPagination(p domain.Pagination) {
	fmt.Printf("Page %d of %d (%d total)\n", p.Page, p.TotalPages, p.Total)
}
