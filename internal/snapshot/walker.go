package snapshot

// walkerScript runs in the page. It clears markers left by a previous
// generation, walks the body depth-first and marks every visible interactive
// element with "<generation>-<ref>". Projection into the outline happens in Go.
const walkerScript = `(opts) => {
	if (!document || !document.body) {
		throw new Error('detached: document has no body');
	}
	const ATTR = opts.attr;
	const GEN = opts.generation;
	const MAX_DEPTH = opts.maxDepth;
	const MAX_TEXT = opts.maxText;
	const INTERACTIVE_TAGS = new Set(opts.interactiveTags);
	const INTERACTIVE_ROLES = new Set(opts.interactiveRoles);
	const SKIP_TAGS = new Set(opts.skipTags);

	document.querySelectorAll('[' + ATTR + ']').forEach((el) => el.removeAttribute(ATTR));

	let counter = 1;

	const squash = (s) => (s || '').replace(/\s+/g, ' ').trim();

	const isVisible = (el, style) => {
		const rect = el.getBoundingClientRect();
		return rect.width > 0 && rect.height > 0 &&
			style.display !== 'none' &&
			style.visibility !== 'hidden' &&
			style.opacity !== '0' &&
			el.getAttribute('aria-hidden') !== 'true';
	};

	const isInteractive = (el, tag, role) => {
		if (INTERACTIVE_TAGS.has(tag)) return true;
		if (INTERACTIVE_ROLES.has(role)) return true;
		if (typeof el.onclick === 'function' || el.hasAttribute('onclick')) return true;
		return el.getAttribute('tabindex') === '0';
	};

	const directText = (el) => {
		let out = '';
		for (const child of el.childNodes) {
			if (child.nodeType === Node.TEXT_NODE) out += ' ' + child.textContent;
		}
		return squash(out).slice(0, MAX_TEXT);
	};

	const walk = (el, depth) => {
		if (depth > MAX_DEPTH) return null;
		const tag = el.tagName.toLowerCase();
		if (SKIP_TAGS.has(tag)) return null;
		const style = window.getComputedStyle(el);
		if (style.display === 'none' || el.getAttribute('aria-hidden') === 'true') return null;

		const role = (el.getAttribute('role') || '').toLowerCase();
		const node = {
			tag: tag,
			role: role,
			type: (el.getAttribute('type') || '').toLowerCase(),
			label: squash(el.getAttribute('aria-label')),
			alt: squash(el.getAttribute('alt')),
			title: squash(el.getAttribute('title')),
			placeholder: squash(el.getAttribute('placeholder')),
			text: directText(el),
			visible: isVisible(el, style),
			checked: el.checked === true || el.getAttribute('aria-checked') === 'true',
			selected: (tag === 'option' && el.selected === true) || el.getAttribute('aria-selected') === 'true',
			required: el.required === true || el.getAttribute('aria-required') === 'true',
			children: [],
		};
		if (tag === 'a') node.href = el.getAttribute('href') || '';
		if ((tag === 'input' || tag === 'textarea' || tag === 'select') && node.type !== 'password' && typeof el.value === 'string') {
			node.value = el.value.slice(0, MAX_TEXT);
		}
		if (node.visible && isInteractive(el, tag, role)) {
			node.ref = counter++;
			el.setAttribute(ATTR, GEN + '-' + node.ref);
			node.inner = squash(el.innerText || el.textContent).slice(0, MAX_TEXT);
		}
		for (const child of el.children) {
			const projected = walk(child, depth + 1);
			if (projected) node.children.push(projected);
		}
		return node;
	};

	return {
		url: location.href,
		title: document.title,
		root: walk(document.body, 0),
	};
}`
