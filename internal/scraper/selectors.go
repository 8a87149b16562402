package scraper

// Instagram DOM selectors
// These are isolated here because Instagram changes its DOM frequently
// Update these when scraping breaks

const (
	// Topic page: post count
	CountHeaderSpan = `header span`
	CountSpan       = `span`
	CountClassSpan  = `div[class*="_ac69"] span`
	CountHeaderDiv  = `header div span`

	// Topic page: related tags
	TagAnchor        = `a[href*="/explore/tags/"]`
	RelatedSection   = `div[class*="related"] a`
	HashSpanAnchor   = `a:has(span)`
	TagPathPrefix    = "/explore/tags/"
	TopicPathPattern = TagPathPrefix + "%s/"

	// Topic page: post grid
	ArticlePostLink = `article a[href*="/p/"]`
	GridPostLink    = `div[class*="_aabd"] a`
	AnyPostLink     = `a[href*="/p/"], a[href*="/reel/"]`

	// Post page
	PostVideo         = `article video, main video, video`
	PostImage         = `article img[srcset], article img[src]`
	OpenGraphImage    = `meta[property="og:image"]`
	CarouselIndicator = `[aria-label*="Carousel"], [aria-label*="Album"], button[aria-label="Next"], button[aria-label="次へ"]`
	CaptionHeading    = `article h1, main h1`
	CaptionClassSpan  = `article div[class*="_a9zs"] span`
	CaptionListSpan   = `article ul li span`
	OpenGraphDesc     = `meta[property="og:description"]`
	LikesClassSpan    = `section span[class*="_aami"]`
	LikedByLink       = `a[href$="/liked_by/"]`
	LikedBySpan       = `a[href$="/liked_by/"] span`
	LikesSectionSpan  = `section span`
	PostTimestamp     = `time[datetime]`
)

// Path segments that introduce a post identifier.
var postPathKinds = []string{"p", "reel"}
